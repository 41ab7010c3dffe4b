// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bittorrent

import (
	"errors"
	"strings"
)

// ErrUnknownEvent is returned when NewEvent fails to recognize a string.
var ErrUnknownEvent = errors.New("unknown event")

// Event represents an event announced by a BitTorrent client.
type Event uint8

const (
	// None is the event for a routine re-announce.
	None Event = iota
	// Started is sent when a client joins a swarm.
	Started
	// Stopped is sent when a client leaves a swarm.
	Stopped
	// Completed is sent when a client finishes downloading.
	Completed
)

var (
	eventToString = map[Event]string{
		None:      "",
		Started:   "started",
		Stopped:   "stopped",
		Completed: "completed",
	}
	stringToEvent = map[string]Event{
		"":          None,
		"update":    None,
		"started":   Started,
		"stopped":   Stopped,
		"completed": Completed,
	}
)

// NewEvent returns the Event matching the given string, as sent over either
// wire protocol (the WebTorrent protocol additionally spells a routine
// re-announce "update").
func NewEvent(s string) (Event, error) {
	if e, ok := stringToEvent[strings.ToLower(s)]; ok {
		return e, nil
	}
	return None, ErrUnknownEvent
}

func (e Event) String() string {
	if s, ok := eventToString[e]; ok {
		return s
	}
	panic("bittorrent: event has no associated name")
}
