package config

import (
	"time"

	"github.com/me/orchestra/pkg/model"
)

// DefaultAffinity is the stock task-type to name-pattern table. Patterns are
// tried in order.
func DefaultAffinity() map[string][]string {
	return map[string][]string{
		"code":     {"codellama", "deepseek", "coder"},
		"chat":     {"llama", "mistral"},
		"creative": {"mistral", "llama"},
		"analysis": {"mixtral", "llama", "qwen"},
	}
}

// DefaultTasks is the stock task catalog backing the seed schedules.
func DefaultTasks() []model.TaskDefinition {
	return []model.TaskDefinition{
		{
			Ref:         "scrapeSources",
			TaskType:    "scrape",
			Description: "Pull new items from configured sources",
			Payload:     model.Payload{Kind: model.PayloadHTTP, Method: "POST", Path: "scrape", Body: map[string]any{"since": "$(params.since || 'yesterday')"}},
			Timeout:     5 * time.Minute,
		},
		{
			Ref:          "weeklyAnalysis",
			TaskType:     "analysis",
			PriorityHint: model.PriorityQuality,
			Description:  "Summarize the week's activity",
			Payload:      model.Payload{Kind: model.PayloadGenerate, Prompt: "Analyze the activity for the week ending $(now.slice(0, 10))."},
			Timeout:      10 * time.Minute,
		},
		{
			Ref:         "sendDailyDigest",
			TaskType:    "chat",
			Description: "Compose the daily digest",
			Payload:     model.Payload{Kind: model.PayloadGenerate, Prompt: "Write a short digest for $(now.slice(0, 10))."},
			Timeout:     2 * time.Minute,
		},
		{
			Ref:          "syncData",
			TaskType:     "sync",
			PriorityHint: model.PrioritySpeed,
			Description:  "Synchronize state with sibling services",
			Payload:      model.Payload{Kind: model.PayloadHTTP, Method: "POST", Path: "sync"},
			Timeout:      time.Minute,
		},
		{
			Ref:          "monthlyAttribution",
			TaskType:     "analysis",
			PriorityHint: model.PriorityReliability,
			Description:  "Attribute last month's outcomes to sources",
			Payload:      model.Payload{Kind: model.PayloadGenerate, Prompt: "Produce the attribution report for the month before $(now.slice(0, 7))."},
			Timeout:      15 * time.Minute,
		},
	}
}

// DefaultSchedules is the seed schedule set.
func DefaultSchedules() []model.ScheduleSpec {
	return []model.ScheduleSpec{
		{Name: "daily-scrape", Cron: "0 6 * * *", TaskRef: "scrapeSources", Description: "Daily source scrape"},
		{Name: "weekly-analysis", Cron: "0 8 * * 1", TaskRef: "weeklyAnalysis", Description: "Weekly analysis every Monday"},
		{Name: "daily-digest", Cron: "0 18 * * *", TaskRef: "sendDailyDigest", Description: "Evening digest"},
		{Name: "hourly-sync", Cron: "0 * * * *", TaskRef: "syncData", Description: "Hourly sync"},
		{Name: "monthly-attribution", Cron: "0 9 1 * *", TaskRef: "monthlyAttribution", Description: "Monthly attribution report"},
	}
}
