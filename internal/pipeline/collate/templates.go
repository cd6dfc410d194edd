package collate

import "placement-mailer/internal/models"

// templateSet is the subject, brief and body of one kind of email. Bodies
// keep {{name}}, {{contact_id}} and {{email}} for the per-recipient pass.
type templateSet struct {
	subject string
	brief   string
	body    string
}

const signature = `<p>Regards,<br/>Training &amp; Placement Cell</p>`

var shortlistTemplates = map[string]templateSet{
	models.SubtypeShortlist: {
		subject: "Shortlist released: {{company_name}} - {{shortlist_title}}",
		brief:   "{{company_name}} has released the shortlist for {{shortlist_title}}.",
		body: `<p>Dear {{name}},</p>` +
			`<p><b>{{company_name}}</b> has released the shortlist for <b>{{shortlist_title}}</b> ` +
			`and your registration {{contact_id}} is on it.</p>` +
			`{{link_block}}` + signature,
	},
	models.SubtypeExtendedShortlist: {
		subject: "Extended shortlist: {{company_name}} - {{shortlist_title}}",
		brief:   "{{company_name}} has extended the shortlist for {{shortlist_title}}.",
		body: `<p>Dear {{name}},</p>` +
			`<p><b>{{company_name}}</b> has extended the shortlist for <b>{{shortlist_title}}</b> ` +
			`and your registration {{contact_id}} has been added.</p>` +
			`{{link_block}}` + signature,
	},
}

var companyTemplate = templateSet{
	subject: "{{company_name}}: {{subtype_label}}",
	brief:   "New update from {{company_name}}: {{subtype_label}}.",
	body: `<p>Dear {{name}},</p>` +
		`<p>There is a new update from <b>{{company_name}}</b>: {{subtype_label}}.</p>` +
		`{{link_block}}` + signature,
}

var contentTemplates = map[string]templateSet{
	models.SubtypeAdded: {
		subject: "New material for {{company_name}}",
		brief:   "New material for {{company_name}} was added on {{updated_at}}.",
		body: `<p>Dear {{name}},</p>` +
			`<p>New material for <b>{{company_name}}</b> was added on {{updated_at}}:</p>` +
			`<ul>{{link_list}}</ul>` + signature,
	},
	models.SubtypeUpdated: {
		subject: "Material updated for {{company_name}}",
		brief:   "Material for {{company_name}} was updated on {{updated_at}}.",
		body: `<p>Dear {{name}},</p>` +
			`<p>Material for <b>{{company_name}}</b> was updated on {{updated_at}}:</p>` +
			`<ul>{{link_list}}</ul>` + signature,
	},
}

var prepTemplate = templateSet{
	subject: "{{domain_title}} preparation material updated",
	brief:   "The {{domain_title}} preparation page was updated on {{updated_at}}.",
	body: `<p>Dear {{name}},</p>` +
		`<p>The <b>{{domain_title}}</b> preparation page was updated on {{updated_at}}.</p>` +
		`{{link_block}}` + signature,
}
