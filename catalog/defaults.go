package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantaliz/solaibot/types"
)

// USDC on Base Sepolia, the token the premium_data resource is priced in.
const usdcBaseSepolia = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

// Default returns the catalog of demo premium resources.
func Default() *Catalog {
	weatherPrice, err := types.ParseFiatPrice("$0.001")
	if err != nil {
		panic(err)
	}

	apiPrice, err := types.ParseFiatPrice("$0.005")
	if err != nil {
		panic(err)
	}

	// 0.01 USDC in 6-decimal base units.
	dataPrice, err := types.TokenPrice("10000", usdcBaseSepolia, 6, "USDC")
	if err != nil {
		panic(err)
	}

	cat, err := New(
		Resource{
			ID:          "premium_weather",
			Price:       weatherPrice,
			Description: "Real-time premium weather data",
			Payload:     weatherPayload,
		},
		Resource{
			ID:          "premium_data",
			Price:       dataPrice,
			Description: "Premium analytics data",
			Payload:     analyticsPayload,
		},
		Resource{
			ID:          "premium_api",
			Price:       apiPrice,
			Description: "Premium API access",
			Payload:     apiKeyPayload,
		},
	)
	if err != nil {
		panic(err)
	}
	return cat
}

func weatherPayload() map[string]interface{} {
	return map[string]interface{}{
		"location":    "San Francisco",
		"temperature": 72,
		"conditions":  "Sunny",
		"humidity":    65,
		"wind_speed":  12,
		"forecast": []map[string]interface{}{
			{"day": "Tomorrow", "high": 75, "low": 58, "conditions": "Partly Cloudy"},
			{"day": "Day 2", "high": 73, "low": 56, "conditions": "Sunny"},
			{"day": "Day 3", "high": 70, "low": 55, "conditions": "Overcast"},
		},
		"air_quality_index": 45,
		"uv_index":          6,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}
}

func analyticsPayload() map[string]interface{} {
	return map[string]interface{}{
		"analytics": map[string]interface{}{
			"daily_users":     15420,
			"conversion_rate": 3.7,
			"revenue":         52340.50,
			"growth_rate":     12.5,
		},
		"insights": []string{
			"User engagement up 15% this week",
			"Mobile traffic now represents 68% of total",
			"Peak usage hours: 2-4 PM EST",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func apiKeyPayload() map[string]interface{} {
	key := uuid.New()
	return map[string]interface{}{
		"api_key":    fmt.Sprintf("pk_premium_%x", key[:8]),
		"rate_limit": "1000 requests/hour",
		"endpoints": []string{
			"/api/v1/advanced-search",
			"/api/v1/bulk-operations",
			"/api/v1/real-time-data",
		},
		"valid_until": time.Now().UTC().AddDate(0, 1, 0).Format(time.RFC3339),
	}
}
