package types

import "time"

// Locale is a proxy catalog entry as assigned to a pad.
type Locale struct {
	Country   string  `json:"country" yaml:"country"`
	Code      string  `json:"code" yaml:"code"`
	Proxy     string  `json:"proxy" yaml:"proxy"`
	TimeZone  string  `json:"time_zone" yaml:"time_zone"`
	Language  string  `json:"language" yaml:"language"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// InstallEntry is one app of the install catalog.
type InstallEntry struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Checksum string `json:"checksum"`
	Package  string `json:"package"`
	AppName  string `json:"app_name"`
	// Paired apps must both show up in the installed app listing before an
	// install stage counts as done.
	Paired bool `json:"paired"`
}

// Matches reports whether an installed app listing entry is this app.
func (e InstallEntry) Matches(appName, packageName string) bool {
	if e.Package != "" && e.Package == packageName {
		return true
	}
	return e.AppName != "" && e.AppName == appName
}

// TouchAction is the actionType of a simulated touch point.
type TouchAction int

const (
	TouchDown TouchAction = 0
	TouchUp   TouchAction = 1
	TouchMove TouchAction = 2
)

type TouchPoint struct {
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Action TouchAction   `json:"action"`
	Wait   time.Duration `json:"wait"`
}

// TapStep presses at a point and pauses afterwards.
type TapStep struct {
	X     float64
	Y     float64
	Hold  time.Duration
	Delay time.Duration
}

// Points returns the press/lift gesture for the step.
func (s TapStep) Points() []TouchPoint {
	return []TouchPoint{
		{X: s.X, Y: s.Y, Action: TouchDown, Wait: s.Hold},
		{X: s.X, Y: s.Y, Action: TouchUp},
	}
}
