package aggregator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

//go:embed branch_report.schema.json
var branchReportSchema []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("branch_report.schema.json", bytes.NewReader(branchReportSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("branch_report.schema.json")
})

// codeFence matches output wrapped in a markdown fence, optionally tagged with a language.
var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*[ \t]*\n?(.*?)\n?```$")

// Parse turns branch output into the JSON contributed to the merged result.
// It never fails: output that is not a usable report is wrapped as raw_data.
func Parse(branch string, out core.BranchOutput, logger *slog.Logger) json.RawMessage {
	if logger == nil {
		logger = slog.Default()
	}
	if out.Report != nil {
		rep := out.Report.Clone()
		rep.Normalize(branch)
		if b, err := json.Marshal(rep); err == nil {
			return b
		}
		logger.Warn("encode typed branch report failed, falling back to raw", "branch", branch)
	}
	return parseRaw(branch, out.Raw, logger)
}

func parseRaw(branch string, raw []byte, logger *slog.Logger) json.RawMessage {
	original := string(raw)
	text := stripFences(strings.TrimSpace(original))

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return rawData(original)
	}

	switch v := decoded.(type) {
	case map[string]any:
		return parseObject(branch, []byte(text), v, logger)
	case []any:
		return parseArray(branch, []byte(text), len(v))
	default:
		return rawData(original)
	}
}

func parseObject(branch string, text []byte, obj map[string]any, logger *slog.Logger) json.RawMessage {
	schema, err := compileSchema()
	if err != nil {
		logger.Error("branch report schema unavailable", "error", err)
		return compact(text)
	}
	if vErr := schema.Validate(obj); vErr != nil {
		logger.Warn("branch output does not match report schema, keeping as-is",
			"branch", branch, "error", vErr)
		return compact(text)
	}

	var rep model.BranchReport
	if err := json.Unmarshal(text, &rep); err != nil {
		logger.Warn("decode branch report failed, keeping as-is", "branch", branch, "error", err)
		return compact(text)
	}
	rep.Normalize(branch)
	b, err := json.Marshal(&rep)
	if err != nil {
		return compact(text)
	}
	return b
}

// parseArray treats a bare array as the item list of a report.
func parseArray(branch string, text []byte, n int) json.RawMessage {
	var items []model.MentionItem
	if err := json.Unmarshal(text, &items); err == nil {
		rep := model.BranchReport{Items: items, ItemCount: -1}
		rep.Normalize(branch)
		if b, err := json.Marshal(&rep); err == nil {
			return b
		}
	}

	b, err := json.Marshal(struct {
		SourceID  string          `json:"source_id"`
		Items     json.RawMessage `json:"items"`
		ItemCount int             `json:"item_count"`
	}{SourceID: branch, Items: compact(text), ItemCount: n})
	if err != nil {
		return rawData(string(text))
	}
	return b
}

func stripFences(s string) string {
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func compact(b []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return append(json.RawMessage(nil), b...)
	}
	return buf.Bytes()
}

func rawData(s string) json.RawMessage {
	b, err := json.Marshal(map[string]string{"raw_data": s})
	if err != nil {
		return model.EmptyBranch
	}
	return b
}
