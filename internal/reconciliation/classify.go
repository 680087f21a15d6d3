package reconciliation

import "github.com/shopspring/decimal"

// DefaultThreshold is the percentage above which a discrepancy is Major.
var DefaultThreshold = decimal.NewFromInt(10)

// maxDifferencePercentage is reported when the calculated quantity is zero
// but the recorded one is not. Such items are always Major, whatever the threshold.
var maxDifferencePercentage = decimal.NewFromInt(100)

var hundred = decimal.NewFromInt(100)

// Classification is the output of Classify.
type Classification struct {
	Difference           decimal.Decimal
	DifferencePercentage decimal.Decimal
	Severity             Severity
}

// Classify compares the calculated and recorded quantities and assigns a
// severity tier. The percentage is rounded to two places for reporting; the
// threshold comparison uses the exact value and is strict.
func Classify(current, calculated, thresholdPercent decimal.Decimal) Classification {
	difference := calculated.Sub(current)
	pct := differencePercentage(difference, calculated)
	return Classification{
		Difference:           difference,
		DifferencePercentage: pct.Round(2),
		Severity:             severityFor(current, calculated, difference, pct, thresholdPercent),
	}
}

func differencePercentage(difference, calculated decimal.Decimal) decimal.Decimal {
	if calculated.IsZero() {
		if difference.IsZero() {
			return decimal.Zero
		}
		return maxDifferencePercentage
	}
	return difference.Abs().Div(calculated.Abs()).Mul(hundred)
}

func severityFor(current, calculated, difference, pct, threshold decimal.Decimal) Severity {
	switch {
	case difference.IsZero():
		return SeverityCorrect
	case current.IsZero() && calculated.IsPositive():
		return SeverityMissing
	case calculated.IsZero():
		return SeverityMajor
	case pct.GreaterThan(threshold):
		return SeverityMajor
	default:
		return SeverityMinor
	}
}
