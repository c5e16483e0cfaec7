package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

var (
	appendFile    string
	appendSource  string
	appendPersist bool
)

// recordInput is the JSON shape accepted by append. Question/answer and
// key/value are interchangeable.
type recordInput struct {
	Question   string         `json:"question"`
	Answer     string         `json:"answer"`
	Key        string         `json:"key"`
	Value      string         `json:"value"`
	SourceID   string         `json:"source_id"`
	Category   string         `json:"category"`
	Keywords   []string       `json:"keywords"`
	Confidence float64        `json:"confidence"`
	Extra      map[string]any `json:"metadata"`
}

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append records from a JSON file",
	Long: `Append question/answer records to the knowledge base.

The input is a JSON array of objects with "question" and "answer" (or
"key" and "value"), and optionally "source_id", "category", "keywords",
"confidence" and "metadata". Use --file - to read from stdin.`,
	Args: cobra.NoArgs,
	RunE: runAppend,
}

func init() {
	appendCmd.Flags().StringVarP(&appendFile, "file", "f", "", "JSON file with records (- for stdin)")
	appendCmd.Flags().StringVar(&appendSource, "source", "", "source id for records that have none")
	appendCmd.Flags().BoolVar(&appendPersist, "persist", true, "write the knowledge file before returning")
	_ = appendCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(appendCmd)
}

func runAppend(cmd *cobra.Command, _ []string) error {
	if knowledgeBase == nil {
		return errKBNotConfigured
	}

	var r io.Reader = cmd.InOrStdin()
	if appendFile != "-" {
		f, err := os.Open(appendFile)
		if err != nil {
			return fmt.Errorf("open %s: %w", appendFile, err)
		}
		defer f.Close()
		r = f
	}

	records, err := decodeRecords(r, appendSource)
	if err != nil {
		return err
	}

	result := knowledgeBase.Append(cmd.Context(), records, appendPersist)
	if !result.Success {
		return fmt.Errorf("append failed: %s", result.Message)
	}
	cmd.Printf("Appended %d records.\n", len(records))
	return nil
}

func decodeRecords(r io.Reader, defaultSource string) ([]domain.Record, error) {
	var inputs []recordInput
	if err := json.NewDecoder(r).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if len(inputs) == 0 {
		return nil, errors.New("no records in input")
	}

	records := make([]domain.Record, 0, len(inputs))
	for i, in := range inputs {
		key := firstNonEmpty(in.Question, in.Key)
		value := firstNonEmpty(in.Answer, in.Value)
		if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("record %d: question and answer are required", i+1)
		}
		records = append(records, domain.Record{
			Key:      key,
			Value:    value,
			SourceID: firstNonEmpty(in.SourceID, defaultSource),
			Metadata: domain.Metadata{
				Category:   in.Category,
				Keywords:   in.Keywords,
				Confidence: in.Confidence,
				Extra:      in.Extra,
			},
		})
	}
	return records, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
