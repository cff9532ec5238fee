package collab

import "math/rand"

// cursorPalette holds the display colors handed out to joining participants.
// Distinguishable on both light and dark document backgrounds.
var cursorPalette = []string{
	"#E5484D", // red
	"#E54666", // crimson
	"#D6409F", // pink
	"#8E4EC6", // purple
	"#6E56CF", // violet
	"#3E63DD", // blue
	"#0090FF", // sky
	"#12A594", // teal
	"#30A46C", // green
	"#F76B15", // orange
	"#FFC53D", // amber
	"#AD7F58", // bronze
}

// pickColor selects a session color. Chosen once per session instance and
// reused across reconnects, so a user keeps their color when the connection
// drops and resumes.
func pickColor() string {
	return cursorPalette[rand.Intn(len(cursorPalette))]
}
