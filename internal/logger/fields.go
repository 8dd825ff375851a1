package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs from the
// orchestrator, the external-tool adapters, and the API can be correlated.
const (
	// ========================================================================
	// Request correlation
	// ========================================================================
	KeyTraceID   = "trace_id"   // Correlation id for a single API request
	KeyOperation = "operation"  // High-level operation: session.start, image.convert, ...
	KeyActor     = "actor"      // Username of the operator driving the request
	KeyClientIP  = "client_ip"  // API client or PXE client IP address

	// ========================================================================
	// Boot entities
	// ========================================================================
	KeyMachineID = "machine_id" // Machine database id
	KeyMAC       = "mac"        // Canonical MAC address (aa:bb:cc:dd:ee:ff)
	KeySessionID = "session_id" // Opaque session identifier
	KeyTargetID  = "target_id"  // External iSCSI target id (machine_<id>)
	KeyIQN       = "iqn"        // iSCSI qualified name
	KeyImageID   = "image_id"   // Image database id
	KeyImageName = "image_name" // Image display name

	// ========================================================================
	// Files & sizes
	// ========================================================================
	KeyPath     = "path"     // Filesystem path (image file, TFTP script, config)
	KeyFilename = "filename" // File basename
	KeySize     = "size"     // Size in bytes
	KeyFormat   = "format"   // Disk image format (vhd, vhdx, raw, ...)

	// ========================================================================
	// External tools
	// ========================================================================
	KeyTool     = "tool"      // External tool name: targetcli, qemu-img, dhcpd, systemctl
	KeyArgs     = "args"      // Tool argument list
	KeyExitCode = "exit_code" // Tool exit code
	KeyStderr   = "stderr"    // Tool stderr tail
	KeyProgress = "progress"  // Conversion progress percentage

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyStatus     = "status"      // Entity status (session/image/target status)
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyCount      = "count"       // Generic count (rows, scripts, targets)
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the request correlation id.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Operation returns a slog.Attr for the high-level operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Actor returns a slog.Attr for the acting username.
func Actor(name string) slog.Attr {
	return slog.String(KeyActor, name)
}

// ClientIP returns a slog.Attr for a client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// MachineID returns a slog.Attr for a machine database id.
func MachineID(id uint) slog.Attr {
	return slog.Uint64(KeyMachineID, uint64(id))
}

// MAC returns a slog.Attr for a canonical MAC address.
func MAC(mac string) slog.Attr {
	return slog.String(KeyMAC, mac)
}

// SessionID returns a slog.Attr for an opaque session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// TargetID returns a slog.Attr for an external iSCSI target id.
func TargetID(id string) slog.Attr {
	return slog.String(KeyTargetID, id)
}

// IQN returns a slog.Attr for an iSCSI qualified name.
func IQN(iqn string) slog.Attr {
	return slog.String(KeyIQN, iqn)
}

// ImageID returns a slog.Attr for an image database id.
func ImageID(id uint) slog.Attr {
	return slog.Uint64(KeyImageID, uint64(id))
}

// ImageName returns a slog.Attr for an image display name.
func ImageName(name string) slog.Attr {
	return slog.String(KeyImageName, name)
}

// Format returns a slog.Attr for a disk image format.
func Format(format string) slog.Attr {
	return slog.String(KeyFormat, format)
}

// Progress returns a slog.Attr for a conversion progress percentage.
func Progress(pct float64) slog.Attr {
	return slog.Float64(KeyProgress, pct)
}

// Path returns a slog.Attr for a filesystem path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Size returns a slog.Attr for a size in bytes.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Tool returns a slog.Attr for an external tool name.
func Tool(name string) slog.Attr {
	return slog.String(KeyTool, name)
}

// ExitCode returns a slog.Attr for an external tool exit code.
func ExitCode(code int) slog.Attr {
	return slog.Int(KeyExitCode, code)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Status returns a slog.Attr for an entity status value.
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Count returns a slog.Attr for a generic count.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}
