package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomcast/internal/retained"
)

var (
	listJSON bool
	clearAll bool
)

var retainedCmd = &cobra.Command{
	Use:   "retained",
	Short: "Inspect and clear retained messages",
	Long: `Inspect and clear retained messages in the configured storage.

These commands work on the storage directly. A running server keeps its own
copy in memory and rewrites the storage on the next retained publish, so use
the admin API (GET /retained, DELETE /retained/{topic}) against a live
server instead.`,
}

var retainedListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the retained record of every topic",
	Args:  cobra.NoArgs,
	Example: `  roomcast --config roomcast.yaml retained list
  roomcast retained list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		store, backend, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		records := store.All()
		if listJSON {
			return writeRecordsJSON(os.Stdout, records)
		}
		if len(records) == 0 {
			printInfo("No retained messages.")
			return nil
		}
		return writeRecordsTable(os.Stdout, records)
	},
}

var retainedClearCmd = &cobra.Command{
	Use:   "clear [topic]",
	Short: "Clear the retained record of a topic, or all of them",
	Args:  cobra.MaximumNArgs(1),
	Example: `  roomcast retained clear lobby
  roomcast retained clear --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if clearAll == (len(args) == 1) {
			return errors.New("give exactly one of a topic or --all")
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		store, backend, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		if clearAll {
			if err := store.ClearAll(cmd.Context()); err != nil {
				return err
			}
			printSuccess("Cleared all retained messages.")
			return nil
		}

		topic := args[0]
		if _, ok := store.Get(topic); !ok {
			printInfo("No retained message for %q.", topic)
			return nil
		}
		if err := store.Clear(cmd.Context(), topic); err != nil {
			return err
		}
		printSuccess("Cleared retained message for %q.", topic)
		return nil
	},
}

func init() {
	retainedListCmd.Flags().BoolVar(&listJSON, "json", false, "print records as JSON")
	retainedClearCmd.Flags().BoolVar(&clearAll, "all", false, "clear every topic")

	retainedCmd.AddCommand(retainedListCmd)
	retainedCmd.AddCommand(retainedClearCmd)
}

type recordOutput struct {
	Topic       string    `json:"topic"`
	Payload     string    `json:"payload"`
	Encoding    string    `json:"encoding,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	QoS         string    `json:"qos"`
	Sender      string    `json:"sender,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

func writeRecordsJSON(w io.Writer, records []retained.Record) error {
	out := make([]recordOutput, 0, len(records))
	for _, rec := range records {
		payload, encoding := retained.TextPayload(rec.Payload)
		out = append(out, recordOutput{
			Topic:       rec.Topic,
			Payload:     payload,
			Encoding:    encoding,
			ContentType: rec.ContentType,
			QoS:         rec.QoS.String(),
			Sender:      rec.Sender,
			LastUpdated: rec.LastUpdated,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeRecordsTable(w io.Writer, records []retained.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tSENDER\tQOS\tUPDATED\tPAYLOAD")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Topic,
			rec.Sender,
			rec.QoS,
			rec.LastUpdated.Format(time.RFC3339),
			preview(rec.Payload, 40))
	}
	return tw.Flush()
}

// preview shortens payload for one table cell.
func preview(payload []byte, limit int) string {
	if !utf8.Valid(payload) {
		return fmt.Sprintf("(%d bytes)", len(payload))
	}
	s := []rune(string(payload))
	if len(s) <= limit {
		return string(s)
	}
	return string(s[:limit-3]) + "..."
}
