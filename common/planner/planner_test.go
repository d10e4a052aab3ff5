package planner_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/cluster-orchestrator/common/planner"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

func coverage(plan *planner.ClusterPlan) map[int]int {
	seen := make(map[int]int)
	for _, role := range plan.Roles() {
		for _, idx := range plan.Indices(role) {
			seen[idx] += 1
		}
	}
	return seen
}

var _ = Describe("Role Planner", func() {
	Context("invalid role counts", func() {
		It("should reject a reserved count equal to the total node count", func() {
			plan, err := planner.Plan(3, 3, "")
			Expect(plan).To(BeNil())
			Expect(errors.Is(err, types.ErrInvalidRoleCounts)).To(BeTrue())
			Expect(errors.Is(err, types.ErrPrecondition)).To(BeTrue())
		})

		It("should reject a reserved count greater than the total node count", func() {
			_, err := planner.Plan(2, 5, "chief")
			Expect(errors.Is(err, types.ErrInvalidRoleCounts)).To(BeTrue())
		})

		It("should reject a negative reserved count", func() {
			_, err := planner.Plan(2, -1, "")
			Expect(errors.Is(err, types.ErrInvalidRoleCounts)).To(BeTrue())
		})
	})

	It("should assign ps and worker roles when no master is named", func() {
		plan, err := planner.Plan(4, 1, "")
		Expect(err).To(BeNil())

		Expect(plan.Roles()).To(Equal([]string{"ps", "worker"}))
		Expect(plan.Indices("ps")).To(Equal([]int{0}))
		Expect(plan.Indices("worker")).To(Equal([]int{1, 2, 3}))

		_, hasMaster := plan.MasterNodeIndex()
		Expect(hasMaster).To(BeFalse())

		role, taskIndex, ok := plan.RoleOf(2)
		Expect(ok).To(BeTrue())
		Expect(role).To(Equal("worker"))
		Expect(taskIndex).To(Equal(1))
	})

	It("should give the master exactly the index equal to the reserved count", func() {
		plan, err := planner.Plan(5, 2, "chief")
		Expect(err).To(BeNil())

		Expect(plan.Roles()).To(Equal([]string{"ps", "chief", "worker"}))
		Expect(plan.Indices("chief")).To(Equal([]int{2}))
		Expect(plan.Indices("worker")).To(Equal([]int{3, 4}))

		idx, ok := plan.MasterNodeIndex()
		Expect(ok).To(BeTrue())
		Expect(idx).To(Equal(2))
	})

	It("should omit the worker role when the master is the last node", func() {
		plan, err := planner.Plan(2, 1, "chief")
		Expect(err).To(BeNil())

		Expect(plan.Roles()).To(Equal([]string{"ps", "chief"}))
		Expect(plan.Indices("worker")).To(BeNil())
		Expect(plan.NumNodesWithRole("worker")).To(Equal(0))
	})

	It("should partition every index exactly once for all valid inputs", func() {
		for total := 1; total <= 12; total++ {
			for reserved := 0; reserved < total; reserved++ {
				for _, master := range []string{"", "master"} {
					plan, err := planner.Plan(total, reserved, master)
					Expect(err).To(BeNil())

					seen := coverage(plan)
					Expect(seen).To(HaveLen(total))
					for idx := 0; idx < total; idx++ {
						Expect(seen[idx]).To(Equal(1), "index %d of plan(%d, %d, %q)", idx, total, reserved, master)
					}

					if master != "" {
						Expect(plan.Indices(master)).To(Equal([]int{reserved}))
					}
				}
			}
		}
	})

	It("should be deterministic", func() {
		a, _ := planner.Plan(7, 2, "chief")
		b, _ := planner.Plan(7, 2, "chief")
		Expect(a.Template()).To(Equal(b.Template()))
		Expect(a.String()).To(Equal(b.String()))
	})

	It("should return copies from its accessors", func() {
		plan, _ := planner.Plan(3, 1, "")
		indices := plan.Indices("worker")
		indices[0] = 99

		Expect(plan.Indices("worker")).To(Equal([]int{1, 2}))
		template := plan.Template()
		template["worker"][1] = 42
		Expect(plan.Indices("worker")).To(Equal([]int{1, 2}))
	})
})
