package deck

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

var (
	topics = []string{
		"Innovation", "Technology", "The future", "Strategy", "Growth",
		"Transformation", "Solutions", "Opportunities", "Outlook", "Progress",
		"Efficiency", "Quality", "Success", "Scale", "Change",
	}
	fields = []string{
		"in business", "in education", "in medicine", "in science", "in IT",
		"in marketing", "in management", "in manufacturing", "in finance", "in logistics",
		"in design", "in architecture", "in ecology", "in sport", "in culture",
	}
	approaches = []string{
		"New approaches to", "Modern methods of", "Current trends in",
		"Effective strategies for", "Innovative solutions for", "Practical aspects of",
		"Key factors of", "Core principles of", "Best practices in",
		"Lessons learned in", "A complete analysis of", "A systems approach to",
	}
	subtitles = []string{
		"Practical advice and case studies",
		"An analysis of current trends",
		"A step by step guide to success",
		"Experience from leading experts",
		"Strategies and tactics for delivery",
		"Tools and techniques",
		"Trends and forecasts",
	}
)

// Title is a generated slide title.
type Title struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// RandomTitle builds a title from one of five templates.
func RandomTitle(rng *rand.Rand) Title {
	topic := pick(rng, topics)
	field := pick(rng, fields)
	var title string
	switch rng.IntN(5) {
	case 0:
		title = topic + " " + field
	case 1:
		title = pick(rng, approaches) + " " + strings.ToLower(topic)
	case 2:
		title = fmt.Sprintf("How to reach %s %s", strings.ToLower(topic), field)
	case 3:
		title = fmt.Sprintf("%s: the outlook %s", topic, field)
	default:
		title = fmt.Sprintf("From idea to result: %s %s", strings.ToLower(topic), field)
	}
	return Title{Title: title, Subtitle: pick(rng, subtitles)}
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.IntN(len(xs))]
}
