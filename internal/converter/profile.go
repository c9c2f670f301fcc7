package converter

import (
	"fmt"
	"strings"
)

// Profile は圧縮プロファイルの種類を表します。
type Profile string

const (
	ProfilePrepress Profile = "prepress"
	ProfileEbook    Profile = "ebook"
	ProfileScreen   Profile = "screen"

	// DefaultProfile はプロファイル未指定時に使用します。
	DefaultProfile = ProfileEbook
)

// ProfileInfo は画面表示用のプロファイル情報です。
type ProfileInfo struct {
	Key         Profile `json:"key"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Setting     string  `json:"setting"`
	Default     bool    `json:"default,omitempty"`
}

var profiles = []ProfileInfo{
	{
		Key:         ProfilePrepress,
		Name:        "Prepress (High Quality)",
		Description: "Keeps print-grade quality for professional output",
		Setting:     "/prepress",
	},
	{
		Key:         ProfileEbook,
		Name:        "E-book (Balanced)",
		Description: "Balance between quality and size (recommended)",
		Setting:     "/ebook",
		Default:     true,
	},
	{
		Key:         ProfileScreen,
		Name:        "Screen (Maximum Compression)",
		Description: "Smallest size for the web, quality may drop",
		Setting:     "/screen",
	},
}

// Profiles は利用可能なプロファイルを品質の高い順に返します。
func Profiles() []ProfileInfo {
	out := make([]ProfileInfo, len(profiles))
	copy(out, profiles)
	return out
}

// ParseProfile は文字列をプロファイルに変換します。空文字は既定値になります。
func ParseProfile(raw string) (Profile, error) {
	key := Profile(strings.ToLower(strings.TrimSpace(raw)))
	if key == "" {
		return DefaultProfile, nil
	}
	if _, ok := lookup(key); !ok {
		return "", fmt.Errorf("unknown compression profile %q (expected prepress, ebook or screen)", raw)
	}
	return key, nil
}

// Valid はプロファイルが既知かどうかを返します。
func (p Profile) Valid() bool {
	_, ok := lookup(p)
	return ok
}

// Setting は Ghostscript の -dPDFSETTINGS に渡す値を返します。
func (p Profile) Setting() string {
	info, ok := lookup(p)
	if !ok {
		return ""
	}
	return info.Setting
}

func lookup(p Profile) (ProfileInfo, bool) {
	for _, info := range profiles {
		if info.Key == p {
			return info, true
		}
	}
	return ProfileInfo{}, false
}
