package supervisor

// Confidence bands for the terminal answer. Direct answers skip the
// specialists entirely and carry the fixed top score; the apology for a turn
// with no usable answers carries the fixed bottom score. Everything between
// scales a band by the fraction of specialists that succeeded.
const (
	directConfidence   = 0.95
	noAnswerConfidence = 0.10

	bandPrimary  = 0.90
	bandDegraded = 0.40
)

func scoreConfidence(band float64, succeeded, failed int) float64 {
	total := succeeded + failed
	if total == 0 {
		return band
	}
	return band * float64(succeeded) / float64(total)
}
