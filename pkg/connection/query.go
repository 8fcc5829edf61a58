package connection

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// devicesSubscription is the single, fixed subscription document issued on
// every connection. It carries no variables and never changes at runtime.
const devicesSubscription = `subscription DevicesSubscription {
  devices {
    id
    label
    tags {
      key
      value
    }
    lastPosition {
      position {
        llaDec {
          lat
          lon
          alt
        }
      }
      timestamp
    }
    services {
      rtk {
        enabled
        connectionStatus
      }
    }
  }
}`

// init syntax-checks the fixed subscription document once at startup. There
// is no client-side schema to validate against, so this only catches a
// malformed query string shipped in a bad build.
func init() {
	if _, err := parser.ParseQuery(&ast.Source{Name: "DevicesSubscription", Input: devicesSubscription}); err != nil {
		panic("connection: devices subscription document is not valid GraphQL: " + err.Error())
	}
}
