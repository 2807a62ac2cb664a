package service

// DefaultErrorMessage is shown in place of a failed assistant reply. The
// conversation stays usable; resubmitting retries the turn.
const DefaultErrorMessage = "Your sales coach is temporarily off the grid—probably closing a deal or wrestling an API. Don't worry. We're rerouting. Try again in a few."

// ThrottleDirective is the fixed system-level prompt sent on the throttle
// side-turn. Not user-authored; the persona instructions key off it.
const ThrottleDirective = "trigger conversation throttling"

// SuggestionTrigger is the fixed prompt appended to the transcript when
// asking the completion backend for follow-up suggestions.
const SuggestionTrigger = "Trigger the suggestion trigger to create 3 suggestions that I could say back to you."

// suggestionCount is how many follow-up lines a well-formed suggestion
// reply contains.
const suggestionCount = 3
