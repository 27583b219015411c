package cli

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/tether/cli/request"
	"github.com/andydunstall/tether/cli/serve"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tether [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `Tether is an HTTP client that speaks HTTP/1.1, HTTP/2 and a multiplexed
protocol over dedicated connections.

Each connection is established over a transport (TCP, TLS or a WebSocket),
then the protocol handshake is performed and the connection is driven in the
background. Failed requests may be retried.

Send a request with:

  $ tether request http://localhost:8000

Start an example server to send requests to with:

  $ tether serve
`,
	}

	cmd.AddCommand(request.NewCommand())
	cmd.AddCommand(serve.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
