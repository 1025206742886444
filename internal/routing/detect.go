package routing

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"asahi/internal/cache/embedding"
	"asahi/internal/domain"
)

// Keyword evidence per task type. Detection scores each task by how
// many of its keywords appear in the normalized prompt, with fuzzy
// matching absorbing small typos.
var taskKeywords = map[domain.TaskType][]string{
	domain.TaskCoding: {
		"code", "function", "debug", "compile", "implement", "refactor",
		"bug", "stack trace", "regex", "script", "algorithm",
	},
	domain.TaskLegal: {
		"contract", "liability", "clause", "legal", "statute",
		"regulation", "compliance", "indemnify", "jurisdiction",
	},
	domain.TaskReasoning: {
		"prove", "step by step", "deduce", "logic", "puzzle",
		"reason through", "derive",
	},
	domain.TaskSummarization: {
		"summarize", "summary", "tldr", "condense", "key points",
		"abstract of",
	},
	domain.TaskTranslation: {
		"translate", "translation", "in french", "in spanish",
		"in german", "in japanese", "into english",
	},
	domain.TaskFAQ: {
		"what is", "what are", "how do i", "how does", "can you explain",
		"why is", "where is",
	},
}

// Ranking for ties: higher-stakes classifications win.
var taskPriority = []domain.TaskType{
	domain.TaskCoding,
	domain.TaskLegal,
	domain.TaskReasoning,
	domain.TaskSummarization,
	domain.TaskTranslation,
	domain.TaskFAQ,
}

// DetectTask classifies a prompt into a task type, falling back to
// general when no keyword evidence is found.
func DetectTask(prompt string) domain.TaskType {
	normalized := embedding.NormalizePrompt(prompt)
	if normalized == "" {
		return domain.TaskGeneral
	}
	words := strings.Fields(normalized)

	bestTask := domain.TaskGeneral
	bestScore := 0
	for _, task := range taskPriority {
		score := 0
		for _, kw := range taskKeywords[task] {
			if matchesKeyword(normalized, words, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestTask = task
		}
	}
	return bestTask
}

// matchesKeyword checks substring presence for phrases and fuzzy
// equality for single words, tolerating one edit on words of five or
// more characters.
func matchesKeyword(normalized string, words []string, keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(normalized, keyword)
	}
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == keyword {
			return true
		}
		if len(keyword) >= 5 && levenshtein.ComputeDistance(w, keyword) == 1 {
			return true
		}
	}
	return false
}
