package ui

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/manifoldco/promptui"
)

// ErrCancelled is returned when the user aborts a prompt
var ErrCancelled = errors.New("operation cancelled by user")

// ConfirmPrompt asks a yes/no confirmation question
func ConfirmPrompt(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrCancelled
		}
		return false, err
	}

	// promptui returns "y" for yes
	return strings.EqualFold(result, "y"), nil
}

// SelectOption is one entry of a detailed selection list
type SelectOption struct {
	Label  string
	Detail string
	Value  string
}

// SelectPromptDetailed presents options with details. Typing filters the
// list by fuzzy match on label and detail.
func SelectPromptDetailed(label string, options []SelectOption) (int, SelectOption, error) {
	if len(options) == 0 {
		return -1, SelectOption{}, errors.New("nothing to select")
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}?",
		Active:   "▸ {{ .Label | cyan }} ({{ .Detail | faint }})",
		Inactive: "  {{ .Label | faint }} ({{ .Detail | faint }})",
		Selected: "▸ {{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      min(10, len(options)),
		Searcher: func(input string, index int) bool {
			return MatchOption(input, options[index])
		},
	}

	index, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return -1, SelectOption{}, ErrCancelled
		}
		return -1, SelectOption{}, err
	}

	return index, options[index], nil
}

// MatchOption reports whether input fuzzily matches an option
func MatchOption(input string, opt SelectOption) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return true
	}
	return fuzzy.MatchNormalizedFold(input, opt.Label) ||
		fuzzy.MatchNormalizedFold(input, opt.Detail) ||
		fuzzy.MatchNormalizedFold(input, opt.Value)
}

// Suggest returns up to limit candidates closest to query, best first. It
// backs "did you mean" hints for mistyped ids.
func Suggest(query string, candidates []string, limit int) []string {
	ranks := fuzzy.RankFindNormalizedFold(query, candidates)
	if len(ranks) == 0 {
		// fall back to the reverse direction so "dawn-theme" still finds "dawn"
		for _, c := range candidates {
			if fuzzy.MatchNormalizedFold(c, query) {
				ranks = append(ranks, fuzzy.Rank{Source: query, Target: c, Distance: len(query) - len(c)})
			}
		}
	}
	sort.Sort(ranks)

	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.Target)
	}
	return out
}

// ConfirmDangerousAction asks for confirmation with a warning
func ConfirmDangerousAction(action string, target string) (bool, error) {
	PrintWarning("You are about to %s: %s", action, target)
	fmt.Println()

	return ConfirmPrompt(fmt.Sprintf("Are you sure you want to %s", action))
}
