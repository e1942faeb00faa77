package knowledge

// builtinCatalog returns the bundled deprecation catalog. This is the
// offline baseline; a configured remote knowledge service augments it at
// query time.
func builtinCatalog() []DeprecatedItem {
	return []DeprecatedItem{
		{
			Name:         "get_page",
			DeprecatedIn: "3.9",
			RemovedIn:    "6.1",
			Replacement:  "get_post",
			ChangeType:   ChangeRemovedFunction,
			Severity:     SeverityCritical,
			Description:  "Function get_page() was deprecated in 3.9 and removed in 6.1",
			DocURL:       "https://developer.wordpress.org/reference/functions/get_page/",
		},
		{
			Name:         "get_page_by_path",
			DeprecatedIn: "6.3",
			Replacement:  "WP_Query with pagename parameter",
			ChangeType:   ChangeDeprecatedFunction,
			Severity:     SeverityHigh,
			Description:  "get_page_by_path() is deprecated, use WP_Query instead",
			DocURL:       "https://developer.wordpress.org/reference/functions/get_page_by_path/",
		},
		{
			Name:         "utf8_uri_encode",
			DeprecatedIn: "5.3",
			Replacement:  "Use urlencode or rawurlencode",
			ChangeType:   ChangeDeprecatedFunction,
			Severity:     SeverityMedium,
			Description:  "utf8_uri_encode() is deprecated",
			DocURL:       "https://developer.wordpress.org/reference/functions/utf8_uri_encode/",
		},
		{
			Name:         "get_page_template_slug",
			DeprecatedIn: "4.7",
			Replacement:  "get_page_template",
			ChangeType:   ChangeDeprecatedFunction,
			Severity:     SeverityMedium,
			Description:  "Use get_page_template() instead",
			DocURL:       "https://developer.wordpress.org/reference/functions/get_page_template_slug/",
		},
		{
			Name:         "$.load",
			DeprecatedIn: "5.5",
			RemovedIn:    "5.9",
			Replacement:  "Use $.on('load', ...)",
			ChangeType:   ChangeBreakingChange,
			Severity:     SeverityHigh,
			Description:  "jQuery .load() method removed in WordPress 5.9 (jQuery 3.x)",
			DocURL:       "https://api.jquery.com/load-event/",
		},
		{
			Name:         "$.bind",
			DeprecatedIn: "5.5",
			Replacement:  "Use $.on()",
			ChangeType:   ChangeDeprecatedFunction,
			Severity:     SeverityMedium,
			Description:  "jQuery .bind() is deprecated, use .on() instead",
			DocURL:       "https://api.jquery.com/bind/",
		},
		{
			Name:         "mysql_",
			DeprecatedIn: "3.9",
			RemovedIn:    "5.5",
			Replacement:  "Use wpdb or mysqli",
			ChangeType:   ChangeSecurityIssue,
			Severity:     SeverityCritical,
			Description:  "mysql_* functions are deprecated and removed, major security risk",
			DocURL:       "https://www.php.net/manual/en/intro.mysql.php",
		},
		{
			Name:         "add_contextual_help",
			DeprecatedIn: "3.3",
			Replacement:  "get_current_screen()->add_help_tab()",
			ChangeType:   ChangeDeprecatedHook,
			Severity:     SeverityMedium,
			Description:  "Deprecated hook for adding contextual help",
			DocURL:       "https://developer.wordpress.org/reference/hooks/add_contextual_help/",
		},
	}
}
