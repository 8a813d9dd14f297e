package llm

// pricePerMillion stores USD per 1M tokens: [input, output].
var pricePerMillion = map[string][2]float64{
	// Gemini
	"gemini-2.0-flash":      {0.075, 0.30},
	"gemini-2.0-flash-lite": {0.075, 0.30},
	"gemini-1.5-flash":      {0.075, 0.30},
	"gemini-1.5-pro":        {1.25, 5.00},
	"gemini-pro":            {0.50, 1.50},

	// OpenAI
	"gpt-4":         {30, 60},
	"gpt-4-turbo":   {10, 30},
	"gpt-4o":        {5, 15},
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-3.5-turbo": {0.50, 1.50},

	// Anthropic
	"claude-3-haiku-20240307":  {0.25, 1.25},
	"claude-sonnet-4-20250514": {3, 15},
	"claude-opus-4-20250514":   {15, 75},
}

var defaultPrice = [2]float64{0.10, 0.30}

// EstimateCostCents returns an estimated cost in US cents. Unknown models use a
// flat default rate; local models are not special-cased.
func EstimateCostCents(model string, inputTokens, outputTokens int) float64 {
	prices, ok := pricePerMillion[model]
	if !ok {
		prices = defaultPrice
	}
	usd := float64(inputTokens)/1e6*prices[0] + float64(outputTokens)/1e6*prices[1]
	return usd * 100
}
