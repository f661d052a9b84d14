// lsi-cli pushes a message or a file through a running localslackirc
// bridge, over its UNIX control socket.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/ltworf/localslackirc/pkg/slackirc"

	flag "github.com/spf13/pflag"
)

var (
	flagSocket = flag.StringP("socket", "s", "", "Path to the localslackirc control socket")
	flagConfig = flag.BoolP("get-config", "g", false, "Print the bridge configuration and exit")
	flagFile   = flag.BoolP("file", "f", false, "Send a file instead of a message")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -s /path/to/socket [-f] target text-or-path\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s -s /path/to/socket -g\n\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	socket := *flagSocket
	if socket == "" {
		socket = os.Getenv("CONTROL_SOCKET")
	}
	if socket == "" {
		usage()
	}

	var req slackirc.ControlRequest
	switch {
	case *flagConfig:
		req.Op = "get-config"
	case flag.NArg() >= 2 && *flagFile:
		req.Op = "send-file"
		req.Target = flag.Arg(0)
		req.Path = flag.Arg(1)
	case flag.NArg() >= 2:
		req.Op = "send-message"
		req.Target = flag.Arg(0)
		req.Text = flag.Arg(1)
	default:
		usage()
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot connect to %s: %v\n", socket, err)
		fmt.Fprintf(os.Stderr, "The control socket only exists while an IRC client is attached.\n")
		os.Exit(1)
	}
	defer conn.Close()

	if err := slackirc.WriteLengthPrefixedJSON(conn, &req); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot send request: %v\n", err)
		os.Exit(1)
	}
	var resp slackirc.ControlResponse
	if err := slackirc.ReadLengthPrefixedJSON(conn, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read response: %v\n", err)
		os.Exit(1)
	}
	if !resp.Ok {
		fmt.Fprintf(os.Stderr, "Request failed: %s\n", resp.Error)
		os.Exit(1)
	}
	if resp.Config != nil {
		out, _ := json.MarshalIndent(resp.Config, "", "  ")
		fmt.Println(string(out))
	}
}
