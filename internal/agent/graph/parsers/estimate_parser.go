package parsers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/chative-estimate/server/internal/agent/model"
	logx "github.com/chative-estimate/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 256 * 1024 // 256KB
	maxErrSnippet = 200        // limit error snippet size
)

// fence matches a ```json ... ``` block. The tag is case-insensitive and the
// newlines around the payload are optional.
var fence = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)\\r?\\n?[ \\t]*```")

// Result is what a renderer needs after each chunk: the prose to show and the
// estimate, when one has been parsed.
type Result struct {
	NaturalText string
	Estimate    *model.Estimate
}

type wireEstimate struct {
	Project      *string            `json:"project"`
	InvoiceGroup *[]model.LineGroup `json:"invoiceGroup"`
	Total        model.Total        `json:"total"`
}

// Feed inspects the whole accumulated buffer, not a delta. It never fails:
// anything that does not parse into a valid estimate is returned as prose.
func Feed(buffer string) Result {
	if len(buffer) > maxContentLen {
		logx.Warn().
			Str("component", "estimate_parser").
			Int("max_len", maxContentLen).
			Int("len", len(buffer)).
			Msg("buffer over size limit, skipping estimate parse")
		return Result{NaturalText: buffer}
	}

	if loc := fence.FindStringSubmatchIndex(buffer); loc != nil {
		est, err := decodeEstimate(buffer[loc[2]:loc[3]])
		if err != nil {
			logx.Debug().
				Str("component", "estimate_parser").
				Err(err).
				Str("snippet", safeSnippet(buffer[loc[2]:loc[3]])).
				Msg("fenced block is not a valid estimate")
			return Result{NaturalText: buffer}
		}
		return Result{NaturalText: buffer[:loc[0]] + buffer[loc[1]:], Estimate: est}
	}

	if trimmed := strings.TrimSpace(buffer); isBareRecord(trimmed) {
		if est, err := decodeEstimate(trimmed); err == nil {
			return Result{Estimate: est}
		}
	}
	return Result{NaturalText: buffer}
}

// StripText removes the estimate payload from buffer without validating it.
// It is used once an estimate has already been latched for the turn.
func StripText(buffer string) string {
	if loc := fence.FindStringIndex(buffer); loc != nil {
		return buffer[:loc[0]] + buffer[loc[1]:]
	}
	if isBareRecord(strings.TrimSpace(buffer)) {
		return ""
	}
	return buffer
}

func isBareRecord(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func decodeEstimate(payload string) (est *model.Estimate, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "estimate_parser").Msgf("panic recovered: %v", r)
			est, err = nil, fmt.Errorf("estimate decode panic: %v", r)
		}
	}()

	var wire wireEstimate
	if err := sonic.ConfigStd.UnmarshalFromString(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode estimate: %w", err)
	}
	if wire.Project == nil {
		return nil, fmt.Errorf("estimate missing project")
	}
	if wire.InvoiceGroup == nil {
		return nil, fmt.Errorf("estimate missing invoiceGroup")
	}
	return &model.Estimate{
		Project:      *wire.Project,
		InvoiceGroup: *wire.InvoiceGroup,
		Total:        wire.Total,
	}, nil
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
