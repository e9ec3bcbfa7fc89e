// monotime_linux.go - Linux Monotonic clock.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux

package monotime

import (
	"time"

	"golang.org/x/sys/unix"
)

// nowImpl reads CLOCK_MONOTONIC_RAW, which frequency adjustments do not
// affect.
func nowImpl() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		panic("monotime: clock_gettime(CLOCK_MONOTONIC_RAW, &ts): " + err.Error())
	}
	return time.Duration(ts.Nano())
}
