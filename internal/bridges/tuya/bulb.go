package tuya

import (
	"context"
	"fmt"
	"strings"
)

// Profile maps bulb functions to data point IDs. Tuya bulbs ship with one of
// two layouts.
type Profile struct {
	Name          string
	Switch        string
	Mode          string
	Brightness    string
	ColourTemp    string
	MaxBrightness int
}

// Known bulb layouts.
var (
	ProfileA = Profile{Name: "a", Switch: "1", Mode: "2", Brightness: "3", ColourTemp: "4", MaxBrightness: 255}
	ProfileB = Profile{Name: "b", Switch: "20", Mode: "21", Brightness: "22", ColourTemp: "23", MaxBrightness: 1000}
)

// ProfileByName returns the layout called name ("a" or "b", case-insensitive).
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(name) {
	case "a":
		return ProfileA, nil
	case "b", "":
		return ProfileB, nil
	default:
		return Profile{}, fmt.Errorf("tuya: unknown bulb profile %q", name)
	}
}

// Bulb drives a lighting device over one connection.
type Bulb struct {
	conn    *Conn
	profile Profile
}

// DialBulb opens a connection to a bulb with the given layout.
func (c *Client) DialBulb(ctx context.Context, creds Credentials, profile Profile) (*Bulb, error) {
	conn, err := c.Dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &Bulb{conn: conn, profile: profile}, nil
}

// TurnOn switches the bulb on.
func (b *Bulb) TurnOn(ctx context.Context) error {
	return b.conn.SetDPS(ctx, map[string]any{b.profile.Switch: true})
}

// TurnOff switches the bulb off.
func (b *Bulb) TurnOff(ctx context.Context) error {
	return b.conn.SetDPS(ctx, map[string]any{b.profile.Switch: false})
}

// SetWhite selects white mode at full brightness and the lowest colour
// temperature.
func (b *Bulb) SetWhite(ctx context.Context) error {
	return b.conn.SetDPS(ctx, map[string]any{
		b.profile.Mode:       "white",
		b.profile.Brightness: b.profile.MaxBrightness,
		b.profile.ColourTemp: 0,
	})
}

// Close releases the underlying connection.
func (b *Bulb) Close() error {
	return b.conn.Close()
}
