package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const callDateLayout = "2006-01-02"

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func formatCallDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(callDateLayout)
}

func parseCallDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(callDateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TranscriptID is stable for a given identity, call date and audio reference,
// so reprocessing the same manifest row always addresses the same record.
func TranscriptID(identity string, callDate time.Time, audioRef string) string {
	return digest(identity, formatCallDate(callDate), audioRef)
}

// WeakTranscriptID is used when the audio reference is unknown. It is unique
// per call but not reproducible; see Store.UpsertTranscript for the
// compensating dedup check.
func WeakTranscriptID(identity string, processedAt time.Time, salt string) string {
	return digest(identity, processedAt.UTC().Format(time.RFC3339Nano), salt)
}

// AnalysisID is derived from the transcript, giving one analysis per transcript.
func AnalysisID(transcriptID string) string {
	return digest("analysis", transcriptID)
}

// TextDigest fingerprints transcript text for the weak-id dedup check.
func TextDigest(text string) string {
	return digest(strings.TrimSpace(text))
}
