package stats

import "math"

const (
	MsgInsufficientSample = "Insufficient sample size"
	MsgNoVariance         = "No variance in data"
	MsgTooFewVariants     = "Need at least two variants"
	MsgRateOutOfRange     = "Conversions exceed sample size"
)

// Arm is one variant's conversion tally.
type Arm struct {
	ID          string
	Users       int
	Conversions int
}

// Rate is conversions per assigned user.
func (a Arm) Rate() float64 {
	if a.Users == 0 {
		return 0
	}
	return float64(a.Conversions) / float64(a.Users)
}

type Options struct {
	MinSampleSize int     // per arm
	Threshold     float64 // confidence percent required for significance
}

func DefaultOptions() Options {
	return Options{MinSampleSize: 30, Threshold: 95}
}

// Significance is the outcome of comparing a treatment against its control.
// Low-confidence outcomes carry a Message instead of being reported as errors.
type Significance struct {
	Control     string  `json:"control,omitempty"`
	Treatment   string  `json:"treatment,omitempty"`
	Significant bool    `json:"significant"`
	Confidence  float64 `json:"confidence"` // 0-100
	ZScore      float64 `json:"z_score"`
	Effect      float64 `json:"effect"` // percent lift of treatment over control
	Message     string  `json:"message,omitempty"`
}

// Compare runs a two-proportion z-test between control and treatment.
func Compare(control, treatment Arm, opts Options) Significance {
	res := Significance{Control: control.ID, Treatment: treatment.ID}

	if control.Users < opts.MinSampleSize || treatment.Users < opts.MinSampleSize {
		res.Message = MsgInsufficientSample
		return res
	}

	n1 := float64(treatment.Users)
	n2 := float64(control.Users)
	ctr1 := treatment.Rate()
	ctr2 := control.Rate()

	// Pooled proportion under the null hypothesis (ctr1 = ctr2)
	pooled := float64(treatment.Conversions+control.Conversions) / (n1 + n2)
	if pooled > 1 {
		res.Message = MsgRateOutOfRange
		return res
	}
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		res.Message = MsgNoVariance
		return res
	}

	z := math.Abs(ctr1-ctr2) / se
	confidence := (2*NormalCDF(z) - 1) * 100

	res.ZScore = z
	res.Confidence = confidence
	res.Significant = confidence > opts.Threshold
	if ctr2 > 0 {
		res.Effect = (ctr1 - ctr2) / ctr2 * 100
	}
	return res
}

// NormalCDF approximates the standard normal CDF with the
// Abramowitz and Stegun formula 7.1.26 for erf (|error| < 1.5e-7).
func NormalCDF(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// Analyze compares the control arm against every other arm in order. The
// headline result is the comparison with the first treatment.
func Analyze(arms []Arm, controlID string, opts Options) (Significance, []Significance) {
	if len(arms) < 2 {
		return Significance{Message: MsgTooFewVariants}, nil
	}

	control := arms[0]
	for _, a := range arms {
		if a.ID == controlID {
			control = a
			break
		}
	}

	var comparisons []Significance
	for _, a := range arms {
		if a.ID == control.ID {
			continue
		}
		comparisons = append(comparisons, Compare(control, a, opts))
	}

	return comparisons[0], comparisons
}
