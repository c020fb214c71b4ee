// Command echoserver runs a gbnet echo server: it accepts connections and
// replies on the same channel with whatever a client sends it.
//
// Grounded on original_source/gbnet/examples/echo_client.rs's demo loop
// shape (poll events, react), mirrored here for the server side, with
// spf13/cobra flags in place of the original's hardcoded constants.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/packetforge/gbnet"
	"github.com/spf13/cobra"
)

func main() {
	var (
		addr       string
		protocolID uint32
		keyHex     string
	)

	root := &cobra.Command{
		Use:           "echoserver",
		Short:         "Run a gbnet echo server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := hex.DecodeString(keyHex)
			if err != nil {
				return fmt.Errorf("invalid --key: %w", err)
			}
			tokenAddr, err := net.ResolveUDPAddr("udp", addr)
			if err != nil {
				return fmt.Errorf("invalid --addr: %w", err)
			}

			cfg := gbnet.DefaultNetworkConfig()
			cfg.ProtocolID = protocolID
			cfg.TokenKey = key
			// Tokens are checked against the address clients dial, not the
			// (possibly wildcard) bound socket address.
			cfg.TokenServerAddr = tokenAddr
			cfg.Channels = []gbnet.ChannelConfig{
				{ID: 0, Mode: "reliable_ordered", MaxMessageSize: 4096, RetransmitQueueCap: 64},
			}

			srv, err := gbnet.ListenAndBind("udp", addr, cfg)
			if err != nil {
				return err
			}
			defer srv.Close()
			fmt.Printf("echoserver listening on %s\n", addr)

			for {
				now := time.Now()
				srv.Update(now)
				for {
					ev, ok := srv.PollEvent()
					if !ok {
						break
					}
					handleEvent(srv, ev, now)
				}
				time.Sleep(16 * time.Millisecond)
			}
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:7777", "address to listen on (and the address clients' tokens must name)")
	root.Flags().Uint32Var(&protocolID, "protocol-id", 0x47424E54, "protocol id clients must match")
	root.Flags().StringVar(&keyHex, "key", "00112233445566778899aabbccddeeff00112233445566778899aabbccddee", "hex-encoded token signing key")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func handleEvent(srv *gbnet.NetServer, ev gbnet.ServerEvent, now time.Time) {
	switch ev.Kind {
	case gbnet.ServerClientConnected:
		fmt.Printf("[+] connection %d connected\n", ev.ConnectionID)
	case gbnet.ServerClientDisconnected:
		fmt.Printf("[-] connection %d disconnected: %v\n", ev.ConnectionID, ev.Reason)
	case gbnet.ServerMessageReceived:
		fmt.Printf("[<] connection %d channel %d: %q\n", ev.ConnectionID, ev.ChannelID, ev.Message)
		if err := srv.Send(ev.ConnectionID, ev.ChannelID, ev.Message, now); err != nil {
			fmt.Println("echo send failed:", err)
		}
	case gbnet.ServerError:
		fmt.Println("error:", ev.Err)
	}
}
