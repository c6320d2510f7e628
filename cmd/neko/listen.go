package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/neko-client/internal/ws"
)

var listenTypes = []ws.MessageType{
	ws.TypeChatUpdate,
	ws.TypeChatMessage,
	ws.TypeTypingStart,
	ws.TypeTypingStop,
	ws.TypeStreamChunk,
	ws.TypeStreamEnd,
	ws.TypeNotification,
	ws.TypeError,
}

func (c *cli) newListenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print real-time events until interrupted",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app, _ []string) error {
			client := a.websocket()
			for _, t := range listenTypes {
				t := t
				client.On(t, func(data json.RawMessage) {
					fmt.Fprintf(a.out, "%s %s\n", t, data)
				})
			}
			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		}),
	}
}
