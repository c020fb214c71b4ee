// Command echoclient connects to a gbnet echo server, sends one message,
// prints the echoed reply, and disconnects.
//
// Grounded on original_source/gbnet/examples/echo_client.rs's poll loop
// (connect, wait for Connected, send once, print the reply, disconnect),
// translated to spf13/cobra flags and gbnet's connect-token handshake,
// which the original's salt-only handshake didn't require.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/packetforge/gbnet"
	"github.com/packetforge/gbnet/security"
	"github.com/spf13/cobra"
)

func main() {
	var (
		addr       string
		protocolID uint32
		keyHex     string
		message    string
	)

	root := &cobra.Command{
		Use:           "echoclient",
		Short:         "Connect to a gbnet echo server and send one message",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := hex.DecodeString(keyHex)
			if err != nil {
				return fmt.Errorf("invalid --key: %w", err)
			}
			now := time.Now()
			token := &security.ConnectToken{
				Version:                security.TokenVersion,
				ExpiryUnixSeconds:      now.Add(30 * time.Second).Unix(),
				ClientID:               uint64(now.UnixNano()),
				AllowedServerAddresses: []string{addr},
			}
			token.Sign(key)

			cfg := gbnet.DefaultNetworkConfig()
			cfg.ProtocolID = protocolID
			cfg.Channels = []gbnet.ChannelConfig{
				{ID: 0, Mode: "reliable_ordered", MaxMessageSize: 4096, RetransmitQueueCap: 64},
			}

			fmt.Printf("connecting to %s...\n", addr)
			clt, err := gbnet.Dial("udp", addr, token, cfg, now)
			if err != nil {
				return err
			}
			defer clt.Close()

			sent := false
			for {
				now := time.Now()
				clt.Update(now)
				for {
					ev, ok := clt.PollEvent()
					if !ok {
						break
					}
					switch ev.Kind {
					case gbnet.ClientConnected:
						fmt.Println("[+] connected")
					case gbnet.ClientDisconnected:
						fmt.Println("[-] disconnected:", ev.Reason)
						return nil
					case gbnet.ClientMessageReceived:
						fmt.Printf("[<] echo reply on channel %d: %q\n", ev.ChannelID, ev.Message)
						clt.Disconnect(now)
						return nil
					case gbnet.ClientError:
						return ev.Err
					}
				}
				if !sent {
					if err := clt.Send(0, []byte(message), now); err == nil {
						fmt.Printf("[>] sent: %q\n", message)
						sent = true
					}
				}
				time.Sleep(16 * time.Millisecond)
			}
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:7777", "server address to connect to")
	root.Flags().Uint32Var(&protocolID, "protocol-id", 0x47424E54, "protocol id, must match the server")
	root.Flags().StringVar(&keyHex, "key", "00112233445566778899aabbccddeeff00112233445566778899aabbccddee", "hex-encoded token signing key")
	root.Flags().StringVar(&message, "message", "Hello from gbnet!", "message to send")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
