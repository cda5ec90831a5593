package nodes

import (
	"context"
	"strings"

	"github.com/hearthai/hearth/graph"
)

// webSearchSentinels are phrasings by which the model signals it wants to
// search online instead of answering from context.
var webSearchSentinels = []string{
	"let me search online",
	"let me search the web",
	"i'll search online",
	"i will search online",
	"i'll look that up online",
	"searching the web for",
}

// bridgingMessage is emitted mid-stream when validation promotes the run to
// a web search, so the user is not left with the abandoned promise.
const bridgingMessage = "\n\nSearching the web...\n\n"

// ValidateAnswer inspects the generated answer. Outcomes, in priority order:
// a web-search promise re-routes through webSearch (allowed even while
// streaming, with a short bridging message); any other structural failure
// requests a bounded retry, suppressed in streaming mode to avoid double
// output; otherwise the run proceeds to storage.
func (l *Library) ValidateAnswer(ctx context.Context, s *graph.State) error {
	s.NeedsRetry = false
	s.ValidationIssues = nil

	if !s.WebSearchPerformed && promisesWebSearch(s.Answer) {
		s.ShouldPerformWebSearch = true
		if s.StreamCallback != nil {
			s.StreamCallback(bridgingMessage)
		}
		l.logger.Info("Answer promises web search, re-routing", map[string]interface{}{
			"run_id": s.RunID,
		})
		return nil
	}

	issues := validationIssues(s)
	if len(issues) == 0 {
		return nil
	}
	s.ValidationIssues = issues

	streaming := s.StreamCallback != nil
	if streaming {
		// Retrying a streamed answer would replay tokens on top of the
		// ones already delivered
		l.logger.Warn("Answer failed validation; retry suppressed while streaming", map[string]interface{}{
			"run_id": s.RunID,
			"issues": strings.Join(issues, "; "),
		})
		return nil
	}

	if s.RetryCount >= maxAnswerRetries {
		l.logger.Warn("Answer failed validation; retries exhausted", map[string]interface{}{
			"run_id": s.RunID,
			"issues": strings.Join(issues, "; "),
		})
		return nil
	}

	s.NeedsRetry = true
	s.RetryCount++
	l.telemetry.RecordMetric("hearth.answer.retries", 1, map[string]string{
		"issue": issues[0],
	})
	l.logger.Info("Answer failed validation, retrying", map[string]interface{}{
		"run_id":      s.RunID,
		"retry_count": s.RetryCount,
		"issues":      strings.Join(issues, "; "),
	})
	return nil
}

// promisesWebSearch detects the online-search sentinel in an answer
func promisesWebSearch(answer string) bool {
	lower := strings.ToLower(answer)
	for _, sentinel := range webSearchSentinels {
		if strings.Contains(lower, sentinel) {
			return true
		}
	}
	return false
}

// validationIssues collects structural problems with the answer
func validationIssues(s *graph.State) []string {
	var issues []string

	trimmed := strings.TrimSpace(s.Answer)
	if trimmed == "" {
		issues = append(issues, "empty answer")
		return issues
	}
	if strings.EqualFold(trimmed, strings.TrimSpace(s.QueryMessage())) {
		issues = append(issues, "answer repeats the question")
	}
	if strings.Count(trimmed, "```")%2 != 0 {
		issues = append(issues, "unterminated code block")
	}
	return issues
}
