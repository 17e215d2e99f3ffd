package claims

// StandardClaims returns a fresh copy of the built-in definitions.
func StandardClaims() []Definition {
	return []Definition{
		{"name", "profile", TypeString, "Name", "Full name"},
		{"given_name", "profile", TypeString, "Given name", "Given name(s) or first name(s)"},
		{"family_name", "profile", TypeString, "Family name", "Surname(s) or last name(s)"},
		{"middle_name", "profile", TypeString, "Middle name", "Middle name(s)"},
		{"nickname", "profile", TypeString, "Nickname", "Casual name"},
		{"preferred_username", "profile", TypeString, "Preferred username", "Shorthand name by which the End-User wishes to be referred to"},
		{"profile", "profile", TypeString, "Profile", "Profile page URL"},
		{"picture", "profile", TypeString, "Picture", "Profile picture URL"},
		{"website", "profile", TypeString, "Website", "Web page or blog URL"},
		{"email", "email", TypeString, "Email", "Preferred e-mail address"},
		{"email_verified", "email", TypeBoolean, "Email verified", "True if the e-mail address has been verified; otherwise false"},
		{"gender", "profile", TypeString, "Gender", "Gender"},
		{"birthdate", "profile", TypeString, "Birthdate", "Birthday"},
		{"zoneinfo", "profile", TypeString, "Zoneinfo", "Time zone"},
		{"locale", "profile", TypeString, "Locale", "Locale"},
		{"phone_number", "phone", TypeString, "Phone number", "Preferred telephone number"},
		{"phone_number_verified", "phone", TypeBoolean, "Phone number verified", "True if the phone number has been verified; otherwise false"},
		{"address", "address", TypeJSON, "Address", "Preferred postal address"},
		{"updated_at", "profile", TypeNumber, "Updated at", "Time the information was last updated"},

		// CILogon
		{"idp", "org.cilogon.userinfo", TypeString, "Identity provider", "Entity ID of the upstream identity provider"},
		{"idp_name", "org.cilogon.userinfo", TypeString, "Identity provider name", "Display name of the upstream identity provider"},
		{"eppn", "org.cilogon.userinfo", TypeString, "ePPN", "eduPersonPrincipalName"},
		{"eptid", "org.cilogon.userinfo", TypeString, "ePTID", "eduPersonTargetedID"},
		{"affiliation", "org.cilogon.userinfo", TypeString, "Affiliation", "eduPersonScopedAffiliation"},
		{"ou", "org.cilogon.userinfo", TypeString, "Organizational unit", "Organizational unit name"},
	}
}
