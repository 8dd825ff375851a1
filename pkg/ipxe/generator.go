// Package ipxe generates per-machine iPXE boot scripts.
//
// Generation is a pure function of the machine, target, image, and server
// configuration, so the orchestrator and the boot-script HTTP endpoint
// produce byte-identical output for the same inputs.
package ipxe

import (
	"fmt"
	"strings"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// Signature is the mandatory first line of every iPXE script.
const Signature = "#!ipxe"

// ServerConfig carries the server-side parameters embedded in scripts.
type ServerConfig struct {
	// PortalIP is the iSCSI portal address clients connect to.
	PortalIP string
	// PortalPort is the iSCSI portal port. Zero means the iPXE default
	// (3260), emitted as an empty field in the SAN URI.
	PortalPort int
	// FallbackURL is chained after sanboot failure. Optional.
	FallbackURL string
	// RebootDelaySec is the pause before rebooting on total failure.
	RebootDelaySec int
}

// SANURI renders the iSCSI SAN URI for a target in the form
// iscsi:<portal>::<lun>:<iqn>. The port is left at the iSCSI default.
func SANURI(cfg ServerConfig, lun int, iqn string) string {
	return fmt.Sprintf("iscsi:%s::%d:%s", cfg.PortalIP, lun, iqn)
}

// Generate produces the boot script for one machine, its target, and the
// image behind it.
func Generate(machine *models.Machine, target *models.Target, image *models.Image, cfg ServerConfig) string {
	delay := cfg.RebootDelaySec
	if delay <= 0 {
		delay = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", Signature)
	fmt.Fprintf(&b, "# %s (%s) booting %s\n", machine.Name, machine.MAC, image.Name)
	b.WriteString("\n")
	b.WriteString("dhcp || goto failed\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "set initiator-iqn %s\n", target.InitiatorIQN)
	fmt.Fprintf(&b, "set target-iqn %s\n", target.IQN)
	fmt.Fprintf(&b, "set portal %s\n", cfg.PortalIP)
	b.WriteString("\n")
	fmt.Fprintf(&b, "sanboot %s || goto fallback\n", SANURI(cfg, target.LUNID, target.IQN))
	b.WriteString("\n")
	b.WriteString(":fallback\n")
	if cfg.FallbackURL != "" {
		fmt.Fprintf(&b, "chain %s || goto failed\n", cfg.FallbackURL)
	} else {
		b.WriteString("goto failed\n")
	}
	b.WriteString("\n")
	b.WriteString(":failed\n")
	fmt.Fprintf(&b, "echo Boot failed for %s, rebooting in %d seconds\n", machine.MAC, delay)
	fmt.Fprintf(&b, "sleep %d\n", delay)
	b.WriteString("reboot\n")
	return b.String()
}

// GenerateGeneric produces the fallback script served to machines without a
// live session. It retries the boot chain after a delay.
func GenerateGeneric(cfg ServerConfig) string {
	delay := cfg.RebootDelaySec
	if delay <= 0 {
		delay = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", Signature)
	b.WriteString("# no active session for this machine\n")
	b.WriteString("\n")
	b.WriteString("dhcp\n")
	fmt.Fprintf(&b, "echo No boot session assigned, retrying in %d seconds\n", delay)
	fmt.Fprintf(&b, "sleep %d\n", delay)
	b.WriteString("reboot\n")
	return b.String()
}

// FilenameFor returns the TFTP-relative path of a machine's boot script:
// machines/<mac-with-hyphens>.ipxe.
func FilenameFor(machine *models.Machine) string {
	return "machines/" + models.MACHyphens(machine.MAC) + ".ipxe"
}

// ValidateSyntax checks that a script carries the iPXE signature line and a
// sanboot command.
func ValidateSyntax(text string) error {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != Signature {
		return fmt.Errorf("script does not start with %s", Signature)
	}
	for _, line := range lines[1:] {
		if strings.HasPrefix(strings.TrimSpace(line), "sanboot ") {
			return nil
		}
	}
	return fmt.Errorf("script contains no sanboot command")
}
