package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Aliisa-yt/twitchbot/internal/transcript"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

// The time signal announces the hour through the SYSTEM voice. The loop
// wakes at every 10-minute boundary and only speaks at the top of the
// hour, so a timer that drifts across a boundary cannot silently skip an
// announcement.

// signalTails alternates the closing form by hour so consecutive
// announcements read less mechanically.
var signalTails = [2]string{"です", "になりました"}

func (c *Coordinator) timeSignalLoop() {
	defer c.wg.Done()
	for {
		at := nextSignalCheck(time.Now())
		timer := time.NewTimer(time.Until(at))
		select {
		case <-c.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		if at.Minute() != 0 {
			continue
		}
		c.announceTime(at)
	}
}

// announceTime speaks the hour with the system voice and notes it in the
// transcript.
func (c *Coordinator) announceTime(at time.Time) {
	text := announceText(at.Hour())
	c.log.Append(transcript.Entry{
		Kind: transcript.KindSystem,
		Text: text,
		Lang: "ja",
	})
	c.speak(context.Background(), Event{Role: voice.RoleSystem}, text, "ja")
}

// announceText renders the hour in the 12-hour form used on stream.
func announceText(hour int) string {
	meridiem, h := "午前", hour
	if h >= 12 {
		meridiem, h = "午後", h-12
	}
	return fmt.Sprintf("%s%d時%s", meridiem, h, signalTails[hour%2])
}

// nextSignalCheck rounds now up to the next 10-minute wall-clock
// boundary.
func nextSignalCheck(now time.Time) time.Time {
	minute := (now.Minute()/10 + 1) * 10
	if minute >= 60 {
		next := now.Add(time.Hour)
		return time.Date(next.Year(), next.Month(), next.Day(), next.Hour(), 0, 0, 0, next.Location())
	}
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
}
