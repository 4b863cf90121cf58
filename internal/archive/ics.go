/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package archive

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// ICSEvent is one VEVENT entry in a generated calendar file.
type ICSEvent struct {
	UID         string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// BuildCalendar renders events as an iCalendar document. Times are written
// in UTC; consumers apply their own display timezone.
func BuildCalendar(name string, events []ICSEvent) []byte {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Skuld Calendar//Fill Export//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICalText(name)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	for _, ev := range events {
		buf.WriteString("BEGIN:VEVENT\r\n")
		buf.WriteString(fmt.Sprintf("UID:%s@skuld\r\n", ev.UID))
		buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(time.Now())))
		buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(ev.Start)))
		buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(ev.End)))
		buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(ev.Title)))
		if ev.Description != "" {
			buf.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICalText(ev.Description)))
		}
		buf.WriteString("END:VEVENT\r\n")
	}

	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
