package conversation

import "strings"

// Intent detection is deliberately cheap and deterministic: keyword matching
// over the normalized message. False negatives fall through to normal stage
// flow; the keyword sets are kept narrow because a false positive skips a
// stage.

var bookingKeywords = []string{
	"agendar", "marcar", "agendamento", "quero visitar", "marcar visita",
	"marcar uma visita", "agendar visita", "fazer uma visita", "quero conhecer a unidade",
	"schedule", "book a visit",
}

var skipKeywords = []string{
	"ja conheco", "já conheço", "conheco o kumon", "conheço o kumon",
	"pode pular", "direto ao ponto", "sem enrolacao", "sem enrolação",
	"ir direto", "skip",
}

var humanKeywords = []string{
	"atendente", "falar com uma pessoa", "falar com alguem", "falar com alguém",
	"falar com humano", "pessoa de verdade", "quero falar com", "ser humano",
	"human", "real person",
}

var confusionKeywords = []string{
	"nao entendi", "não entendi", "como assim", "o que", "oque", "hein",
	"nao sei", "não sei", "confuso", "confusa", "?",
}

func normalizeMessage(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

func containsAny(message string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

// DetectBookingIntent reports whether the user is asking to book a visit.
func DetectBookingIntent(message string) bool {
	return containsAny(normalizeMessage(message), bookingKeywords)
}

// DetectSkipIntent reports whether the user asked to skip the qualification
// questions.
func DetectSkipIntent(message string) bool {
	return containsAny(normalizeMessage(message), skipKeywords)
}

// DetectHumanRequest reports whether the user asked for a human attendant.
func DetectHumanRequest(message string) bool {
	return containsAny(normalizeMessage(message), humanKeywords)
}

// DetectConfusion reports whether the message signals the user did not
// understand the previous response. A bare question mark counts; a question
// mark inside a longer sentence does not.
func DetectConfusion(message string) bool {
	msg := normalizeMessage(message)
	if msg == "?" || msg == "??" || msg == "???" {
		return true
	}
	for _, kw := range confusionKeywords {
		if kw == "?" {
			continue
		}
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// DetectEngagement reports a positive engagement signal: a substantive reply
// rather than a monosyllable.
func DetectEngagement(message string) bool {
	msg := normalizeMessage(message)
	if len(msg) > 20 {
		return true
	}
	switch msg {
	case "sim", "quero", "pode ser", "claro", "com certeza", "yes":
		return true
	}
	return false
}
