package service

import (
	"fmt"
	"strings"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"
)

var conceptSchema = gateway.Object(map[string]*gateway.Schema{
	"title":             gateway.String(),
	"description":       gateway.String(),
	"style":             gateway.String().Describe("visual style: medium, palette, lens, era"),
	"mood":              gateway.String(),
	"keyVisualElements": gateway.ArrayOf(gateway.String()),
}, "title", "description", "style", "mood", "keyVisualElements")

func shotPlanSchema(n int) *gateway.Schema {
	dialogue := gateway.Object(map[string]*gateway.Schema{
		"speaker": gateway.String(),
		"text":    gateway.String(),
	}, "speaker", "text")
	shot := gateway.Object(map[string]*gateway.Schema{
		"prompt":     gateway.String().Describe("self-contained generation prompt"),
		"duration":   gateway.IntegerRange(2, 8).Describe("seconds, one of 2, 4, 6, 8"),
		"dialogue":   gateway.ArrayOf(dialogue),
		"characters": gateway.ArrayOf(gateway.String()),
	}, "prompt", "duration", "dialogue", "characters")
	character := gateway.Object(map[string]*gateway.Schema{
		"name":        gateway.String(),
		"description": gateway.String().Describe("full physical description"),
	}, "name", "description")
	return gateway.Object(map[string]*gateway.Schema{
		"shots":      gateway.ArrayOf(shot).WithItems(n, n),
		"characters": gateway.ArrayOf(character),
	}, "shots", "characters")
}

var locationSchema = gateway.Object(map[string]*gateway.Schema{
	"groups": gateway.ArrayOf(gateway.Integer()).Describe("one location group id per shot, in shot order"),
}, "groups")

var continuitySchema = gateway.Object(map[string]*gateway.Schema{
	"colorGrade":        gateway.IntegerRange(1, 10),
	"lighting":          gateway.IntegerRange(1, 10),
	"characterLikeness": gateway.IntegerRange(1, 10),
	"environmentMatch":  gateway.IntegerRange(1, 10),
	"feedback":          gateway.String().Describe("concrete corrections for the candidate frame"),
}, "colorGrade", "lighting", "characterLikeness", "environmentMatch", "feedback")

func conceptPrompt(idea string, refs int) string {
	var b strings.Builder
	b.WriteString("You are a film director developing a short-form video concept.\n")
	fmt.Fprintf(&b, "Idea: %s\n", idea)
	if refs > 0 {
		fmt.Fprintf(&b, "The %d attached images are the user's visual references; derive the style from them.\n", refs)
	}
	b.WriteString("Return a title, a one-paragraph description, a precise visual style, the mood and the key visual elements.")
	return b.String()
}

func shotPlanPrompt(idea string, c *models.Concept, n int, speakingRate float64) string {
	var b strings.Builder
	b.WriteString("Break this concept into a shot list for a short video.\n")
	writeConcept(&b, c)
	fmt.Fprintf(&b, "Original idea: %s\n", idea)
	fmt.Fprintf(&b, "Produce exactly %d shots. Durations must be one of 2, 4, 6 or 8 seconds.\n", n)
	b.WriteString("Every shot prompt must be fully self-contained: restate each subject's full appearance, the environment and the style, ")
	b.WriteString("because the generator sees one shot at a time and remembers nothing.\n")
	fmt.Fprintf(&b, "Dialogue must fit the shot: at most %.1f spoken words per second of duration.\n", speakingRate)
	b.WriteString("List every recurring character once with a complete physical description; refer to them by the same name in each shot's characters list.")
	return b.String()
}

func moodBoardPrompt(c *models.Concept, variant, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mood board image %d of %d for a short film.\n", variant+1, total)
	writeConcept(&b, c)
	b.WriteString("Show the overall look, palette and lighting, not a specific scene. No text or captions.")
	return b.String()
}

func portraitPrompt(c *models.Concept, ch models.Character, hasStyle bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Character reference portrait of %s: %s\n", ch.Name, ch.Description)
	fmt.Fprintf(&b, "Style: %s. Neutral background, full body visible, even lighting.\n", c.Style)
	if hasStyle {
		b.WriteString("Image 1 is the style reference: match its rendering, palette and texture.")
	}
	return b.String()
}

func groupReferencePrompt(c *models.Concept, members []models.Character) string {
	var b strings.Builder
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	fmt.Fprintf(&b, "Group reference showing %s together, side by side, at correct relative scale.\n", strings.Join(names, ", "))
	for i, m := range members {
		fmt.Fprintf(&b, "Image %d is the portrait of %s (%s); keep their exact likeness.\n", i+1, m.Name, m.Description)
	}
	fmt.Fprintf(&b, "Style: %s.", c.Style)
	return b.String()
}

func clusterPrompt(shots []models.Shot) string {
	var b strings.Builder
	b.WriteString("Assign each shot a location group id so that shots set in the same physical space share an id.\n")
	fmt.Fprintf(&b, "Return exactly %d integers, in shot order.\n", len(shots))
	for _, s := range shots {
		fmt.Fprintf(&b, "Shot %d: %s\n", s.Index, s.Prompt)
	}
	return b.String()
}

func continuityPrompt(shotDesc string) string {
	return "Image 1 is the previous storyboard frame; image 2 is the candidate for the next shot.\n" +
		"Shot description: " + shotDesc + "\n" +
		"Score the candidate's consistency with the previous frame from 1 to 10 on color grade, lighting, " +
		"character likeness and environment match. If anything is off, describe exactly what to change."
}

func heroEnvironmentPrompt(c *models.Concept, shot models.Shot, hasStyle bool) string {
	var b strings.Builder
	b.WriteString("Establishing environment plate, no characters.\n")
	fmt.Fprintf(&b, "Location as described in this shot: %s\n", shot.Prompt)
	fmt.Fprintf(&b, "Style: %s. Mood: %s.\n", c.Style, c.Mood)
	if hasStyle {
		b.WriteString("Image 1 is the style reference: match its palette and rendering.")
	}
	return b.String()
}

func secondaryEnvironmentPrompt(c *models.Concept, shot models.Shot, hero bool, siblings int) string {
	var b strings.Builder
	b.WriteString("Environment plate, no characters.\n")
	if hero {
		b.WriteString("Image 1 shows the location. Render a different camera angle of the identical physical space: ")
		b.WriteString("same architecture, props, materials and light sources. Do not invent a similar place; it is the same place.\n")
	}
	if siblings > 0 {
		fmt.Fprintf(&b, "The next %d image(s) are other angles of this same space already established; stay consistent with them.\n", siblings)
	}
	fmt.Fprintf(&b, "This angle is for the shot: %s\n", shot.Prompt)
	fmt.Fprintf(&b, "Style: %s.", c.Style)
	return b.String()
}

// frameRoles names each reference image by position, in the order they are attached.
type frameRoles struct {
	environment bool
	portraits   []string
	group       bool
	previous    bool
}

func framePrompt(c *models.Concept, shot models.Shot, roles frameRoles, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Storyboard frame for shot %d.\n%s\n", shot.Index, shot.Prompt)
	fmt.Fprintf(&b, "Style: %s. Mood: %s.\n", c.Style, c.Mood)
	n := 1
	if roles.environment {
		fmt.Fprintf(&b, "Image %d is the locked environment: place the action in exactly this space.\n", n)
		n++
	}
	for _, name := range roles.portraits {
		fmt.Fprintf(&b, "Image %d is the reference portrait of %s: keep their exact likeness.\n", n, name)
		n++
	}
	if roles.group {
		fmt.Fprintf(&b, "Image %d shows these characters together: keep their relative scale.\n", n)
		n++
	}
	if roles.previous {
		fmt.Fprintf(&b, "Image %d is the previous frame: match this look (color grade, lighting, lens).\n", n)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "Correction required: %s\n", feedback)
	}
	return b.String()
}

func videoPrompt(c *models.Concept, shot models.Shot) string {
	var b strings.Builder
	b.WriteString(shot.Prompt)
	b.WriteString("\n")
	if c != nil {
		fmt.Fprintf(&b, "Style: %s. Mood: %s.\n", c.Style, c.Mood)
	}
	for _, l := range shot.Dialogue {
		fmt.Fprintf(&b, "%s says: \"%s\"\n", l.Speaker, l.Text)
	}
	return b.String()
}

func writeConcept(b *strings.Builder, c *models.Concept) {
	if c == nil {
		return
	}
	fmt.Fprintf(b, "Title: %s\nDescription: %s\nStyle: %s\nMood: %s\n", c.Title, c.Description, c.Style, c.Mood)
	if len(c.KeyVisualElements) > 0 {
		fmt.Fprintf(b, "Key visual elements: %s\n", strings.Join(c.KeyVisualElements, ", "))
	}
}
