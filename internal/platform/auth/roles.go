package auth

// Clinic roles. The values are the labels stored on users, visits and
// referrals, so they must not be translated.
const (
	RoleAdmin     = "Admin"
	RoleDoctor    = "Médico Diabetología"
	RoleNurse     = "Enfermería"
	RoleSurgery   = "Cirugía General"
	RoleVascular  = "Cirugía Vascular"
	RolePhysiatry = "Fisiatría"
	RoleSocial    = "Asistente Social"
	RoleParamedic = "TENS / Paramédico"
	RoleAuditor   = "Auditor"
)

// AllRoles lists every assignable role.
var AllRoles = []string{
	RoleAdmin,
	RoleDoctor,
	RoleNurse,
	RoleSurgery,
	RoleVascular,
	RolePhysiatry,
	RoleSocial,
	RoleParamedic,
	RoleAuditor,
}

// Role groups used by route guards.
var (
	// ClinicalRoles may record and amend clinical data.
	ClinicalRoles = []string{RoleDoctor, RoleNurse, RoleSurgery, RoleVascular, RolePhysiatry, RoleParamedic}
	// SurgicalRoles review referrals and record procedures.
	SurgicalRoles = []string{RoleSurgery, RoleVascular}
	// ReadRoles may read the clinical record.
	ReadRoles = []string{RoleDoctor, RoleNurse, RoleSurgery, RoleVascular, RolePhysiatry, RoleSocial, RoleParamedic, RoleAuditor}
)

func ValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}
