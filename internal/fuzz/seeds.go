package fuzztests

import "testing"

const (
	maxSeedBytes = 64 << 10 // 64 KiB — ограничение для тестового корпуса
)

// scriptSeeds are representative inputs: a full script, metadata-only
// variants, and shapes that must be rejected without panicking.
var scriptSeeds = []string{
	// complete script with every metadata list
	`@factor = global i32 7

define i32 @scale(i32 %v, i32 %x) {
entry:
	%r = mul i32 %v, 2
	ret i32 %r
}

define void @setup(i32 %n) {
entry:
	ret void
}

!gs_export_var = !{!0}
!gs_export_func = !{!1}
!gs_export_kernel_name = !{!2}
!gs_export_kernel = !{!3}
!gs_pragma = !{!4}

!0 = !{!"factor"}
!1 = !{!"setup"}
!2 = !{!"scale"}
!3 = !{!"75"}
!4 = !{!"version", !"1"}
`,
	// no metadata at all
	`define void @plain() {
entry:
	ret void
}
`,
	// kernel list without matching signature list
	`!gs_export_kernel_name = !{!0}
!0 = !{!"orphan"}
`,
	// malformed signature string
	`!gs_export_kernel_name = !{!0}
!gs_export_kernel = !{!1}
!0 = !{!"bad"}
!1 = !{!"sig"}
`,
	"",
	"garbage that is not assembly",
}

func addScriptSeeds(f *testing.F) {
	for _, seed := range scriptSeeds {
		f.Add(clampSeed([]byte(seed)))
	}
}

func clampSeed(src []byte) []byte {
	if len(src) <= maxSeedBytes {
		return append([]byte(nil), src...)
	}
	return append([]byte(nil), src[:maxSeedBytes]...)
}
