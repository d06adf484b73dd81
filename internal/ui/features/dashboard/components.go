package dashboard

import (
	"encoding/json"

	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/session"
)

// Fixed texts shown by the page.
const (
	Title             = "Leapdash"
	Subtitle          = "Describe a dashboard, get a running app."
	PlaceholderText   = "Please upload a CSV file and generate the dashboard."
	ReadyText         = "Describe the dashboard you want and press Generate."
	OverlayText       = "Scanning subspace for chronitron particles"
	NoArtifactMessage = "No app has been generated yet."
)

// PageView is everything a page render needs.
type PageView struct {
	View     session.View
	AppHTML  string
	AppError string
	LogTail  string
	Notice   string
	IsDev    bool
}

func signals(v session.View) string {
	b, _ := json.Marshal(map[string]any{
		"busy":        v.Busy,
		"description": v.Description,
		"exploration": v.Exploration,
	})
	return string(b)
}

// runsAsProcess reports whether the app panel should point at a live child
// process instead of rendering in place.
func runsAsProcess(res runner.Result) bool {
	return res.Mode == runner.ModeProcess && res.State != runner.StateFailed && res.PID > 0
}
