// Copyright 2025 Tom Barlow
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

package channel

import (
	"errors"
	"fmt"
)

// ErrMissingAttribute is matched by every MissingAttributeError.
var ErrMissingAttribute = errors.New("missing attribute")

// ErrUncertainQC is returned when a QC run cannot be confirmed as one.
var ErrUncertainQC = errors.New("not certain that this is a QC run")

// MissingAttributeError reports the attribute that blocked an action.
type MissingAttributeError struct {
	Action string
	Key    string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("%s: crucial attribute %q is missing", e.Action, e.Key)
}

// Is reports whether target is ErrMissingAttribute.
func (e *MissingAttributeError) Is(target error) bool {
	return target == ErrMissingAttribute
}

func requireAttrs(s *State, action string, keys ...string) error {
	if key := s.Missing(keys...); key != "" {
		return &MissingAttributeError{Action: action, Key: key}
	}
	return nil
}
