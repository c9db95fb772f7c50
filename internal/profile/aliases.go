package profile

// Recognized option keys that are handled structurally (not aliased to a
// restic flag or environment variable).
const (
	KeyInherit     = "inherit"
	KeyDescription = "description"
	KeyCommand     = "command"
	KeyArgs        = "args"
	KeyFlags       = "flags"
	KeyGlobalFlags = "global-flags"
	KeySchedule    = "schedule"
	KeyResticPath  = "restic-path"
	KeyWaitForLock = "wait-for-lock"
	KeyCPUPriority = "cpu-priority"
	KeyIOPriority  = "io-priority"
	KeyKeyring     = "password-keyring"
	KeyLogFilter   = "log-filter"
	KeyTimeout     = "timeout"
	KeyWorkDir     = "work-dir"
)

// listKeys are options with union/append merge semantics across an
// inheritance chain. Everything else is a scalar (last writer wins,
// nearest profile first).
var listKeys = map[string]bool{
	KeyInherit:     true,
	KeyCommand:     true,
	KeyArgs:        true,
	KeyFlags:       true,
	KeyGlobalFlags: true,
}

// aliases maps friendly option keys to their canonical form: either a restic
// CLI flag ("-r", "--limit-upload") or an environment variable ("env.NAME").
// This is the same table the option reference documents.
var aliases = map[string]string{
	"repository":     "-r",
	"limit-download": "--limit-download",
	"limit-upload":   "--limit-upload",
	"verbose":        "--verbose",

	"repository-file":  "env.RESTIC_REPOSITORY_FILE",
	"password":         "env.RESTIC_PASSWORD",
	"password-command": "env.RESTIC_PASSWORD_COMMAND",
	"password-file":    "env.RESTIC_PASSWORD_FILE",
	"cache-dir":        "env.RESTIC_CACHE_DIR",
	"key-hint":         "env.RESTIC_KEY_HINT",
	"progress-fps":     "env.RESTIC_PROGRESS_FPS",

	"aws-access-key-id":     "env.AWS_ACCESS_KEY_ID",
	"aws-secret-access-key": "env.AWS_SECRET_ACCESS_KEY",
	"aws-default-region":    "env.AWS_DEFAULT_REGION",

	"st-auth": "env.ST_AUTH",
	"st-user": "env.ST_USER",
	"st-key":  "env.ST_KEY",

	"os-auth-url":                      "env.OS_AUTH_URL",
	"os-region-name":                   "env.OS_REGION_NAME",
	"os-username":                      "env.OS_USERNAME",
	"os-password":                      "env.OS_PASSWORD",
	"os-tenant-id":                     "env.OS_TENANT_ID",
	"os-tenant-name":                   "env.OS_TENANT_NAME",
	"os-user-domain-name":              "env.OS_USER_DOMAIN_NAME",
	"os-project-name":                  "env.OS_PROJECT_NAME",
	"os-project-domain-name":           "env.OS_PROJECT_DOMAIN_NAME",
	"os-application-credential-id":     "env.OS_APPLICATION_CREDENTIAL_ID",
	"os-application-credential-name":   "env.OS_APPLICATION_CREDENTIAL_NAME",
	"os-application-credential-secret": "env.OS_APPLICATION_CREDENTIAL_SECRET",
	"os-storage-url":                   "env.OS_STORAGE_URL",
	"os-auth-token":                    "env.OS_AUTH_TOKEN",

	"b2-account-id":  "env.B2_ACCOUNT_ID",
	"b2-account-key": "env.B2_ACCOUNT_KEY",

	"azure-account-name": "env.AZURE_ACCOUNT_NAME",
	"azure-account-key":  "env.AZURE_ACCOUNT_KEY",

	"google-project-id":              "env.GOOGLE_PROJECT_ID",
	"google-application-credentials": "env.GOOGLE_APPLICATION_CREDENTIALS",

	"rclone-bwlimit": "env.RCLONE_BWLIMIT",
}

// ListKey reports whether key carries list semantics. Config parsing uses
// this to decide when a scalar value should be word-split.
func ListKey(key string) bool { return listKeys[key] }

// canonical resolves an option key to its canonical form.
func canonical(key string) string {
	if c, ok := aliases[key]; ok {
		return c
	}
	return key
}

// Environment variable names used by the planner's password precedence.
const (
	EnvPassword        = "RESTIC_PASSWORD"
	EnvPasswordFile    = "RESTIC_PASSWORD_FILE"
	EnvPasswordCommand = "RESTIC_PASSWORD_COMMAND"
	EnvRepositoryFile  = "RESTIC_REPOSITORY_FILE"
	EnvCacheDir        = "RESTIC_CACHE_DIR"
)
