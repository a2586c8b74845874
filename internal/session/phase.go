package session

import (
	"encoding/json"
	"fmt"
)

// Phase is the lifecycle stage of a session. Ended is terminal.
type Phase int

const (
	NotStarted Phase = iota
	InProgress
	Ended
)

var phaseNames = map[Phase]string{
	NotStarted: "not_started",
	InProgress: "in_progress",
	Ended:      "ended",
}

var phaseFromName = map[string]Phase{
	"not_started": NotStarted,
	"in_progress": InProgress,
	"ended":       Ended,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := phaseFromName[s]
	if !ok {
		return fmt.Errorf("unknown session phase %q", s)
	}
	*p = v
	return nil
}
