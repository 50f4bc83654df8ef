package execution

import (
	"github.com/teranos/dialpulse/pulse/relation"
)

// Entity types known to the relationship registry
const (
	EntityCampaign          relation.EntityType = "campaign"
	EntitySchedule          relation.EntityType = "schedule"
	EntityScheduleExecution relation.EntityType = "schedule_execution"
	EntityCampaignExecution relation.EntityType = "campaign_execution"
	EntityHoliday           relation.EntityType = "holiday"
)

// Relationships is the declarative ownership table.
//
// Deleting a campaign takes its schedules with it; a schedule with a live
// execution cannot be deleted. Campaign executions live and die with their
// schedule execution. The remaining rows reference by id only.
var Relationships = []relation.Relationship{
	{A: EntityCampaign, B: EntitySchedule, Cardinality: relation.OneToMany, Cascade: true},
	{A: EntitySchedule, B: EntityScheduleExecution, Cardinality: relation.OneToMany},
	{A: EntityScheduleExecution, B: EntityCampaignExecution, Cardinality: relation.OneToMany, Cascade: true},
	{A: EntityCampaign, B: EntityScheduleExecution, Cardinality: relation.OneToMany, KeyOnly: true},
	{A: EntityCampaign, B: EntityCampaignExecution, Cardinality: relation.OneToMany, KeyOnly: true},
	{A: EntitySchedule, B: EntityCampaignExecution, Cardinality: relation.OneToMany, KeyOnly: true},
	{A: EntityHoliday, B: EntitySchedule, Cardinality: relation.ManyToMany, KeyOnly: true},
}

// NewRegistry builds the registry from Relationships
func NewRegistry() (*relation.Registry, error) {
	return relation.NewRegistry(Relationships)
}
