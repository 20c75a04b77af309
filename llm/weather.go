package llm

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
)

type weatherInput struct {
	Location string `json:"location"`
}

type Weather struct {
	Temperature int    `json:"temperature"`
	Condition   string `json:"condition"`
}

type WeatherReport struct {
	Status   string  `json:"status"`
	Location string  `json:"location"`
	Weather  Weather `json:"weather"`
}

var knownWeather = map[string]Weather{
	"New York":      {Temperature: 22, Condition: "Sunny"},
	"San Francisco": {Temperature: 16, Condition: "Foggy"},
	"London":        {Temperature: 18, Condition: "Cloudy"},
	"Tokyo":         {Temperature: 25, Condition: "Clear"},
}

// WeatherTool returns demonstration weather data. Unknown locations get a stable temperature
// between 10 and 24 derived from the name.
type WeatherTool struct{}

func (WeatherTool) Name() string { return "weather" }

func (WeatherTool) Description() string { return "Get the weather for a given location" }

func (WeatherTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{
				"type":        "string",
				"description": "City name, e.g. Tokyo",
			},
		},
		"required":             []string{"location"},
		"additionalProperties": false,
	}
}

func (WeatherTool) Execute(_ context.Context, input json.RawMessage) (any, error) {
	var in weatherInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return nil, errors.New("location is required")
	}

	weather, ok := knownWeather[location]
	if !ok {
		h := fnv.New32a()
		h.Write([]byte(strings.ToLower(location)))
		weather = Weather{Temperature: int(h.Sum32()%15) + 10, Condition: "Partly Cloudy"}
	}
	return WeatherReport{Status: "success", Location: location, Weather: weather}, nil
}
