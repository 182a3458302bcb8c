package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code Code
	// Counted marks failures that contribute to the process exit status.
	Counted         bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[Code]ErrorCodeInfo{
	CodeMalformedPayload: {
		Code:            CodeMalformedPayload,
		Counted:         true,
		Description:     "AuditData payload does not follow the export grammar",
		SuggestedAction: "Inspect the row with: tala show <file> --debug",
	},
	CodeShortRow: {
		Code:            CodeShortRow,
		Counted:         true,
		Description:     "CSV row has fewer columns than the audit layout",
		SuggestedAction: "Check that the file is an unmodified audit log export",
	},
	CodeCSVSyntax: {
		Code:            CodeCSVSyntax,
		Counted:         true,
		Description:     "CSV quoting or field syntax error",
		SuggestedAction: "Re-export the audit log; the file may have been edited by a spreadsheet tool",
	},
	CodeInputPath: {
		Code:            CodeInputPath,
		Counted:         true,
		Description:     "Input path is not a readable file",
		SuggestedAction: "Check the path and its permissions",
	},
	CodeCancelled: {
		Code:            CodeCancelled,
		Counted:         false,
		Description:     "Run interrupted",
		SuggestedAction: "Re-run the command to completion",
	},
	CodeProcessing: {
		Code:            CodeProcessing,
		Counted:         true,
		Description:     "Unclassified processing error",
		SuggestedAction: "Re-run with --debug and check the log",
	},
}

// IsCounted returns true if failures with the given code count towards the exit status.
func IsCounted(code Code) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Counted
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code Code) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --debug and check the log"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code Code) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
