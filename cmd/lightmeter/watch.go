package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"lightmeter/internal/report"
	"lightmeter/internal/sampling"
)

func newWatchCmd() *cobra.Command {
	var wsURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the state stream of a running daemon",
		Long: `Connect to the websocket state stream of a daemon started with --http and
print every event until interrupted.

Example:
  lightmeter watch --url ws://127.0.0.1:8080/ws
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := toolLogger(cmd)
			if err != nil {
				return err
			}

			u, err := url.Parse(wsURL)
			if err != nil {
				return fmt.Errorf("invalid websocket URL: %w", err)
			}

			d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
			logger.Info("connecting", "url", u.String())
			conn, _, err := d.DialContext(cmd.Context(), u.String(), nil)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			// Serializes writes: the ping goroutine and the close frame.
			var writeMu sync.Mutex

			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			})
			conn.SetPingHandler(func(data string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				writeMu.Lock()
				defer writeMu.Unlock()
				return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
			})

			pingTicker := time.NewTicker(30 * time.Second)
			defer pingTicker.Stop()

			done := make(chan error, 1)
			go func() {
				done <- readEvents(conn, cmd.OutOrStdout())
			}()

			for {
				select {
				case <-cmd.Context().Done():
					logger.Info("shutting down")
					writeMu.Lock()
					err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					writeMu.Unlock()
					if err != nil {
						logger.Debug("close frame failed", "error", err)
					}
					return nil

				case err := <-done:
					logger.Info("connection closed")
					return err

				case <-pingTicker.C:
					writeMu.Lock()
					err := conn.WriteMessage(websocket.PingMessage, nil)
					writeMu.Unlock()
					if err != nil {
						return fmt.Errorf("ping: %w", err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:8080/ws", "State stream websocket URL")
	return cmd
}

// readEvents prints events until the connection ends. A normal close is not
// an error.
func readEvents(conn *websocket.Conn, out io.Writer) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("websocket: %w", err)
			}
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if messageType != websocket.TextMessage {
			continue
		}
		fmt.Fprintln(out, formatEvent(message))
	}
}

// formatEvent renders one stream frame as a single line.
func formatEvent(message []byte) string {
	var env report.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "[TEXT] " + string(message)
	}

	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000") + " "
	}

	switch env.Type {
	case report.EventStateInit:
		var snap sampling.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			break
		}
		if !snap.HasVoltage {
			return fmt.Sprintf("%s[INIT] no samples yet, history 0/%d", ts, snap.Capacity)
		}
		return fmt.Sprintf("%s[INIT] voltage=%.4f dips=%d history=%d/%d", ts, snap.Voltage, snap.Dips, snap.Count, snap.Capacity)

	case report.EventSample:
		var data report.SampleData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		return fmt.Sprintf("%s[SAMPLE] voltage=%.4f dips=%d history=%d/%d", ts, data.Voltage, data.Dips, data.Count, data.Capacity)
	}

	return fmt.Sprintf("%s[%s] %s", ts, env.Type, string(env.Data))
}
