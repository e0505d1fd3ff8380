package tools

import (
	"context"
	"fmt"
	"os/exec"
)

var sshOptions = []string{"-o", "StrictHostKeyChecking=no", "-o", "LogLevel=ERROR", "-o", "BatchMode=yes"}

// SSHTarget returns user@host, or host when no user is set.
func SSHTarget(hostname, user string) string {
	if user != "" {
		return fmt.Sprintf("%s@%s", user, hostname)
	}
	return hostname
}

// BuildSSHCommand builds an ssh command with optional user and private key
func BuildSSHCommand(ctx context.Context, hostname, remoteCmd, sshKeyPath, user string) *exec.Cmd {
	args := sshArgs(sshKeyPath)
	args = append(args, SSHTarget(hostname, user), remoteCmd)
	return exec.CommandContext(ctx, "ssh", args...)
}

// BuildSCPCommand copies remotePattern (a path or glob on hostname) into localDir.
func BuildSCPCommand(ctx context.Context, hostname, remotePattern, localDir, sshKeyPath, user string) *exec.Cmd {
	args := sshArgs(sshKeyPath)
	args = append(args, fmt.Sprintf("%s:%s", SSHTarget(hostname, user), remotePattern), localDir+"/")
	return exec.CommandContext(ctx, "scp", args...)
}

func sshArgs(sshKeyPath string) []string {
	args := make([]string, 0, len(sshOptions)+2)
	if sshKeyPath != "" {
		args = append(args, "-i", sshKeyPath)
	}
	return append(args, sshOptions...)
}
