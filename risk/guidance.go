package risk

type guidanceCategory struct {
	Name  string
	Steps []string
}

var genericGuidance = guidanceCategory{
	Name: "generic",
	Steps: []string{
		"Review the raw log and confirm the alert fields are accurate.",
		"Identify the affected user, host and source address.",
		"Check for related alerts involving the same entities in the last 24 hours.",
		"Contain the affected asset if malicious activity is confirmed.",
		"Document findings and update the alert status.",
	},
}

// guidanceClassifier maps alert types to analyst playbooks. Order matters: an
// alert type naming both a login and privilege escalation gets the
// authentication playbook.
var guidanceClassifier = MustClassifier(genericGuidance,
	Variant[guidanceCategory]{
		Name:    "authentication",
		Pattern: `authentication|brute[-_ ]?force|credential[-_ ]?stuffing|login`,
		Result: guidanceCategory{Name: "authentication", Steps: []string{
			"Verify whether the targeted account owner initiated the login attempts.",
			"Block or rate-limit the source IP at the perimeter.",
			"Force a password reset and revoke active sessions for the targeted account.",
			"Enforce or verify multi-factor authentication on the account.",
			"Search for successful logins from the same source after the failures.",
		}},
	},
	Variant[guidanceCategory]{
		Name:    "phishing",
		Pattern: `phishing`,
		Result: guidanceCategory{Name: "phishing", Steps: []string{
			"Quarantine the message and search for copies in other mailboxes.",
			"Block the sender domain and any embedded URLs at the mail gateway and proxy.",
			"Identify recipients who clicked links or opened attachments.",
			"Reset credentials for any user who submitted them.",
			"Notify affected users and report the campaign to the security awareness team.",
		}},
	},
	Variant[guidanceCategory]{
		Name:    "malware",
		Pattern: `malware|beacon`,
		Result: guidanceCategory{Name: "malware", Steps: []string{
			"Isolate the affected host from the network.",
			"Collect a memory image and the suspicious binary for analysis.",
			"Block the command-and-control domains and IPs at the perimeter.",
			"Run a full endpoint scan and check other hosts for the same indicators.",
			"Reimage the host if persistence mechanisms are found.",
		}},
	},
	Variant[guidanceCategory]{
		Name:    "exfiltration",
		Pattern: `exfiltration|insider`,
		Result: guidanceCategory{Name: "exfiltration", Steps: []string{
			"Identify what data left the environment and its classification.",
			"Block the destination address and suspend the involved account.",
			"Preserve logs and evidence for legal and HR review.",
			"Review the user's recent access to sensitive repositories.",
			"Engage legal and privacy teams to assess notification obligations.",
		}},
	},
	Variant[guidanceCategory]{
		Name:    "privilege_escalation",
		Pattern: `privilege|escalation`,
		Result: guidanceCategory{Name: "privilege_escalation", Steps: []string{
			"Confirm whether the privilege change was authorized through change management.",
			"Revoke the newly granted privileges pending review.",
			"Audit actions taken with the elevated privileges.",
			"Check the host for exploitation artifacts or new local accounts.",
			"Rotate credentials for affected administrative accounts.",
		}},
	},
	Variant[guidanceCategory]{
		Name:    "reconnaissance",
		Pattern: `port[-_ ]?scan|reconnaissance`,
		Result: guidanceCategory{Name: "reconnaissance", Steps: []string{
			"Identify the scanning source and whether it is internal or external.",
			"Block the source at the firewall if it is not an authorized scanner.",
			"Review which ports and services responded to the scan.",
			"Check for follow-on exploitation attempts against exposed services.",
			"Harden or close unnecessary exposed services.",
		}},
	},
	Variant[guidanceCategory]{
		Name:    "unauthorized_access",
		Pattern: `unauthorized|access`,
		Result: guidanceCategory{Name: "unauthorized_access", Steps: []string{
			"Verify the identity and authorization of the accessing account.",
			"Review access logs for the resource around the alert time.",
			"Revoke the access path used if it was not authorized.",
			"Check whether data was read or modified during the access.",
			"Tighten access controls on the affected resource.",
		}},
	},
)

// Guidance returns the category name and five analyst steps for an alert type.
func Guidance(alertType string) (string, []string) {
	c := guidanceClassifier.Classify(alertType).Result
	return c.Name, append([]string(nil), c.Steps...)
}
