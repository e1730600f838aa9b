// Package response normalizes the heterogeneous upstream response shapes into
// the single FlowExecutionResult contract.
package response

import (
	"encoding/json"
	"fmt"

	"github.com/attachflow/relay/internal/flowerr"
	"github.com/attachflow/relay/internal/model"
)

// maxRawBody bounds how much of an unparsable body is carried in diagnostics.
const maxRawBody = 512

// defaultErrorMessage is substituted when an error response carries no
// message, so the caller never sees an empty error string.
const defaultErrorMessage = "execution failed"

// Process turns a raw relay response into a FlowExecutionResult. It is pure
// and total: every input, including nil and non-JSON bodies, maps to a
// well-defined result and it never panics.
//
// The relay may return the script runtime's response flat or nested under an
// apps_script_response field; both shapes are accepted.
func Process(body []byte, httpStatus int) model.FlowExecutionResult {
	var parsed map[string]interface{}
	if len(body) == 0 || json.Unmarshal(body, &parsed) != nil || parsed == nil {
		return unexpected(body, httpStatus, "response body is not a JSON object")
	}

	inner := unnest(parsed)
	status, ok := inner["status"].(string)
	if !ok {
		return unexpected(body, httpStatus, "response has no status field")
	}

	switch status {
	case "success":
		return successResult(inner)
	case "error":
		return errorResult(inner)
	default:
		return unexpected(body, httpStatus, fmt.Sprintf("unknown status %q", status))
	}
}

// unnest locates the layer that carries the status field. The runtime's own
// response may sit under apps_script_response; if that nested layer has a
// status it wins, otherwise the flat layer is used.
func unnest(parsed map[string]interface{}) map[string]interface{} {
	if nested, ok := parsed["apps_script_response"].(map[string]interface{}); ok {
		if _, hasStatus := nested["status"]; hasStatus {
			return nested
		}
	}
	return parsed
}

func successResult(m map[string]interface{}) model.FlowExecutionResult {
	res := model.FlowExecutionResult{Success: true}
	res.Message, _ = m["message"].(string)
	res.Version, _ = m["version"].(string)
	res.ProcessingTime = asFloat(m["processing_time"])

	data, _ := m["data"].(map[string]interface{})
	if data == nil {
		// Counts may also appear at the same level as status.
		data = m
	}

	res.EmailsFound = asInt(data["emailsFound"])
	res.ProcessedEmails = asInt(data["processedEmails"])
	// Historical responses used "attachments"; canonical is "savedAttachments".
	if v, ok := data["savedAttachments"]; ok {
		res.SavedAttachments = asInt(v)
	} else {
		res.SavedAttachments = asInt(data["attachments"])
	}
	res.ProcessedAttachments = asFiles(data["processedAttachments"])
	res.Errors = asStrings(data["errors"])

	return res
}

func errorResult(m map[string]interface{}) model.FlowExecutionResult {
	msg, _ := m["message"].(string)
	if msg == "" {
		msg = defaultErrorMessage
	}
	return model.FlowExecutionResult{
		Success:   false,
		Error:     msg,
		ErrorKind: string(flowerr.KindUpstream),
	}
}

func unexpected(body []byte, httpStatus int, reason string) model.FlowExecutionResult {
	raw := string(body)
	if len(raw) > maxRawBody {
		raw = raw[:maxRawBody] + "..."
	}
	return model.FlowExecutionResult{
		Success:   false,
		Error:     fmt.Sprintf("%s (http %d): %s", reason, httpStatus, raw),
		ErrorKind: string(flowerr.KindUnexpectedFormat),
	}
}

// asInt coerces a decoded JSON value to int, treating anything missing or
// non-numeric as 0 so counts never propagate as null.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	if n, ok := v.(float64); ok {
		return n
	}
	return 0
}

// asFiles passes the saved-file descriptor list through unchanged, dropping
// entries that are not objects.
func asFiles(v interface{}) []model.SavedFile {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var files []model.SavedFile
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		f := model.SavedFile{Size: int64(asInt(m["size"]))}
		f.OriginalName, _ = m["originalName"].(string)
		f.SavedName, _ = m["savedName"].(string)
		f.MIMEType, _ = m["mimeType"].(string)
		f.FileID, _ = m["fileId"].(string)
		f.FileURL, _ = m["fileUrl"].(string)
		files = append(files, f)
	}
	return files
}

func asStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
