package iscsi

import (
	"regexp"
	"strings"
)

var iqnPattern = regexp.MustCompile(`iqn\.[0-9]{4}(-[0-9]{2})?\.[^\s.]+[^\s\]]*`)

// parseIQNs extracts every IQN from a targetcli /iscsi listing.
func parseIQNs(out string) []string {
	var iqns []string
	seen := make(map[string]struct{})
	for _, match := range iqnPattern.FindAllString(out, -1) {
		match = strings.TrimRight(match, ".")
		if _, ok := seen[match]; ok {
			continue
		}
		seen[match] = struct{}{}
		iqns = append(iqns, match)
	}
	return iqns
}

// parseTPGListing extracts LUNs, ACLs, and portals from a targetcli tpg
// listing. The tree format looks like:
//
//	o- tpg1 ............. [no-gen-acls, no-auth]
//	  o- acls ........... [ACLs: 1]
//	  | o- iqn.2025.ggnet:initiator-001122334455 [Mapped LUNs: 1]
//	  o- luns ........... [LUNs: 1]
//	  | o- lun0 ......... [fileio/img_machine_7 (/srv/img/win11.raw)]
//	  o- portals ........ [Portals: 1]
//	    o- 192.168.1.1:3260 [OK]
func parseTPGListing(out string) *TargetStatus {
	status := &TargetStatus{}
	section := ""
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(strings.TrimLeft(raw, " |"))
		if !strings.HasPrefix(line, "o- ") {
			continue
		}
		name := strings.Fields(strings.TrimPrefix(line, "o- "))[0]
		switch name {
		case "acls", "luns", "portals":
			section = name
			continue
		}
		switch section {
		case "acls":
			status.ACLs = append(status.ACLs, name)
		case "luns":
			status.LUNs = append(status.LUNs, name)
		case "portals":
			status.Portals = append(status.Portals, name)
		}
	}
	return status
}
