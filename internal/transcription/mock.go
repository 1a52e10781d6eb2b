package transcription

import (
	"context"
	"fmt"
	"hash/fnv"

	"voice-conformity-go/internal/types"
)

// Mock returns a canned transcript without calling any provider. Duration is
// derived from the reference so costs are stable across runs.
type Mock struct {
	CostPerMinute float64
}

func (m Mock) Transcribe(_ context.Context, audioRef string) (types.Transcription, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(audioRef))
	duration := 120 + int(h.Sum32()%240)

	return types.Transcription{
		Text: fmt.Sprintf("MOCK TRANSCRIPT for %s. Agente: Buenos dias, le habla Ana de Maquisistema. "+
			"Confirmo su deposito de la cuota inicial. Nadie le puede asegurar la adjudicacion, debe ganar el sorteo o el remate. "+
			"Tiene alguna duda? El siguiente paso es la asamblea del proximo mes.", audioRef),
		Confidence:      0.9,
		DurationSeconds: duration,
		Cost:            Cost(float64(duration), m.CostPerMinute),
		Provider:        "mock",
	}, nil
}
