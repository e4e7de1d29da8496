package models

import (
	"fmt"
	"strings"
)

// Group identifies one deployment of the message platform.
type Group string

const (
	GroupHinatazaka Group = "hinatazaka46"
	GroupNogizaka   Group = "nogizaka46"
	GroupSakurazaka Group = "sakurazaka46"
)

// GroupConfig describes the platform endpoints and headers for one group.
type GroupConfig struct {
	APIBase     string
	AppID       string
	Origin      string
	DisplayName string
}

// GroupCatalog maps each supported group to its platform configuration.
var GroupCatalog = map[Group]GroupConfig{
	GroupHinatazaka: {
		APIBase:     "https://api.message.hinatazaka46.com/v2",
		AppID:       "jp.co.sonymusic.communication.keyakizaka 2.5",
		Origin:      "https://message.hinatazaka46.com",
		DisplayName: "日向坂46",
	},
	GroupNogizaka: {
		APIBase:     "https://api.message.nogizaka46.com/v2",
		AppID:       "jp.co.sonymusic.communication.nogizaka 2.5",
		Origin:      "https://message.nogizaka46.com",
		DisplayName: "乃木坂46",
	},
	GroupSakurazaka: {
		APIBase:     "https://api.message.sakurazaka46.com/v2",
		AppID:       "jp.co.sonymusic.communication.sakurazaka 2.5",
		Origin:      "https://message.sakurazaka46.com",
		DisplayName: "櫻坂46",
	},
}

// ParseGroup converts a user-supplied string into a Group.
func ParseGroup(s string) (Group, error) {
	g := Group(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := GroupCatalog[g]; !ok {
		return "", fmt.Errorf("invalid group: %s (must be one of hinatazaka46, nogizaka46, sakurazaka46)", s)
	}
	return g, nil
}

// Config returns the platform configuration for the group.
func (g Group) Config() GroupConfig {
	return GroupCatalog[g]
}

func (g Group) String() string {
	return string(g)
}
