package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// CommandSuggestion is one command the model proposes.
type CommandSuggestion struct {
	Cmd    string `json:"cmd"`
	Reason string `json:"reason"`
}

// Finding is the structured vulnerability report a scan can return.
type Finding struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ModelReply is the parsed reply of one loop iteration.
type ModelReply struct {
	Commands           []CommandSuggestion `json:"commands"`
	Done               bool                `json:"done"`
	VulnerabilityFound bool                `json:"vulnerability_found"`
	Finding            *Finding            `json:"finding"`
}

var (
	jsonBlobPattern  = regexp.MustCompile(`\{[\s\S]*\}`)
	fencedCodeBlocks = regexp.MustCompile("(?s)```(?:bash|sh)?\\s*\n(.*?)```")
)

// ParseReply extracts the structured reply from raw model output. It
// first looks for a JSON object anywhere in the text; when no usable
// commands come out of that, it falls back to lines inside bash fences.
// Parsing is lenient on purpose: the whitelist, not the parser, decides
// what runs.
func ParseReply(raw string) *ModelReply {
	reply := &ModelReply{}
	if blob := jsonBlobPattern.FindString(raw); blob != "" {
		var parsed ModelReply
		if err := json.Unmarshal([]byte(blob), &parsed); err == nil {
			reply = &parsed
			if !reply.VulnerabilityFound {
				reply.Finding = nil
			}
		}
	}
	if len(reply.Commands) == 0 {
		for _, block := range fencedCodeBlocks.FindAllStringSubmatch(raw, -1) {
			for _, line := range strings.Split(strings.TrimSpace(block[1]), "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				reply.Commands = append(reply.Commands, CommandSuggestion{Cmd: line, Reason: "from markdown"})
			}
		}
	}
	return reply
}
